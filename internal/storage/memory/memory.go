// Package memory is an in-process Store used by tests and by DB_DRIVER=memory.
// Transactions are serialised with a mutex and roll back by restoring a snapshot.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/circulation"
	"github.com/jules-labs/librarydesk/internal/eventlog"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
)

type state struct {
	users       map[uuid.UUID]membership.User
	emails      map[string]uuid.UUID
	writers     map[uuid.UUID]catalog.Writer
	books       map[uuid.UUID]catalog.Book
	loans       map[uuid.UUID]circulation.Loan
	fines       map[uuid.UUID]fines.Fine
	finesByLoan map[uuid.UUID]uuid.UUID
	events      map[uuid.UUID][]eventlog.Event
	nextEventID int64
}

func newState() *state {
	return &state{
		users:       make(map[uuid.UUID]membership.User),
		emails:      make(map[string]uuid.UUID),
		writers:     make(map[uuid.UUID]catalog.Writer),
		books:       make(map[uuid.UUID]catalog.Book),
		loans:       make(map[uuid.UUID]circulation.Loan),
		fines:       make(map[uuid.UUID]fines.Fine),
		finesByLoan: make(map[uuid.UUID]uuid.UUID),
		events:      make(map[uuid.UUID][]eventlog.Event),
	}
}

func (st *state) clone() *state {
	c := &state{
		users:       cloneMap(st.users),
		emails:      cloneMap(st.emails),
		writers:     cloneMap(st.writers),
		books:       cloneMap(st.books),
		loans:       cloneMap(st.loans),
		fines:       cloneMap(st.fines),
		finesByLoan: cloneMap(st.finesByLoan),
		events:      make(map[uuid.UUID][]eventlog.Event, len(st.events)),
		nextEventID: st.nextEventID,
	}
	for id, evs := range st.events {
		c.events[id] = slices.Clone(evs)
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

var (
	_ membership.Store  = (*Store)(nil)
	_ catalog.Store     = (*Store)(nil)
	_ circulation.Store = (*Store)(nil)
	_ fines.Store       = (*Store)(nil)
)

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu   sync.Mutex
	data *state
}

type txKey struct{}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// RunInTx runs fn holding the store lock. If fn fails, every change it made is discarded.
// Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the mutex unless ctx already holds it through RunInTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Users

func (s *Store) InsertUser(ctx context.Context, u *membership.User) error {
	defer s.lock(ctx)()

	if _, ok := s.data.emails[u.Email]; ok {
		return apperror.New(apperror.ErrConflict, "email %s is already registered", u.Email)
	}
	if _, ok := s.data.users[u.ID]; ok {
		return apperror.New(apperror.ErrConflict, "user %s already exists", u.ID)
	}
	s.data.users[u.ID] = *u
	s.data.emails[u.Email] = u.ID
	return nil
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	defer s.lock(ctx)()

	u, ok := s.data.users[id]
	if !ok {
		return nil, apperror.NotFound("user")
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*membership.User, error) {
	defer s.lock(ctx)()

	id, ok := s.data.emails[email]
	if !ok {
		return nil, apperror.NotFound("user")
	}
	u := s.data.users[id]
	return &u, nil
}

func (s *Store) FindUsers(ctx context.Context) ([]*membership.User, error) {
	defer s.lock(ctx)()

	out := make([]*membership.User, 0, len(s.data.users))
	for _, u := range s.data.users {
		out = append(out, &u)
	}
	sortByCreated(out, func(u *membership.User) (time.Time, uuid.UUID) { return u.CreatedAt, u.ID })
	return out, nil
}

// Writers and books

func (s *Store) InsertWriter(ctx context.Context, w *catalog.Writer) error {
	defer s.lock(ctx)()

	if _, ok := s.data.writers[w.ID]; ok {
		return apperror.New(apperror.ErrConflict, "writer %s already exists", w.ID)
	}
	stored := *w
	stored.Books = nil
	s.data.writers[w.ID] = stored
	return nil
}

func (s *Store) WriterByID(ctx context.Context, id uuid.UUID) (*catalog.Writer, error) {
	defer s.lock(ctx)()

	w, ok := s.data.writers[id]
	if !ok {
		return nil, apperror.NotFound("writer")
	}
	return &w, nil
}

func (s *Store) FindWriters(ctx context.Context) ([]*catalog.Writer, error) {
	defer s.lock(ctx)()

	out := make([]*catalog.Writer, 0, len(s.data.writers))
	for _, w := range s.data.writers {
		out = append(out, &w)
	}
	sortByCreated(out, func(w *catalog.Writer) (time.Time, uuid.UUID) { return w.CreatedAt, w.ID })
	return out, nil
}

func (s *Store) InsertBook(ctx context.Context, b *catalog.Book) error {
	defer s.lock(ctx)()

	if _, ok := s.data.books[b.ID]; ok {
		return apperror.New(apperror.ErrConflict, "book %s already exists", b.ID)
	}
	if b.WriterID != nil {
		if _, ok := s.data.writers[*b.WriterID]; !ok {
			return apperror.NotFound("writer")
		}
	}
	s.data.books[b.ID] = *b
	return nil
}

func (s *Store) BookByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	defer s.lock(ctx)()

	b, ok := s.data.books[id]
	if !ok {
		return nil, apperror.NotFound("book")
	}
	return &b, nil
}

func (s *Store) FindBooks(ctx context.Context, query string) ([]*catalog.Book, error) {
	defer s.lock(ctx)()

	q := strings.ToLower(query)
	out := make([]*catalog.Book, 0, len(s.data.books))
	for _, b := range s.data.books {
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) && !strings.Contains(strings.ToLower(b.Author), q) {
			continue
		}
		out = append(out, &b)
	}
	sortByCreated(out, func(b *catalog.Book) (time.Time, uuid.UUID) { return b.CreatedAt, b.ID })
	return out, nil
}

func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book, expectedVersion int) error {
	defer s.lock(ctx)()

	current, ok := s.data.books[b.ID]
	if !ok {
		return apperror.NotFound("book")
	}
	if current.Version != expectedVersion {
		return apperror.New(apperror.ErrConflict, "book was modified concurrently")
	}

	available := current.Available
	current = *b
	current.Available = available
	s.data.books[b.ID] = current
	b.Available = available
	return nil
}

func (s *Store) SetBookAvailable(ctx context.Context, id uuid.UUID, from, to bool) (bool, error) {
	defer s.lock(ctx)()

	b, ok := s.data.books[id]
	if !ok {
		return false, apperror.NotFound("book")
	}
	if b.Available != from {
		return false, nil
	}
	b.Available = to
	s.data.books[id] = b
	return true, nil
}

// DeleteBook removes an available book together with its past loans and their
// paid fines. A book with an unpaid fine stays.
func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()

	b, ok := s.data.books[id]
	if !ok {
		return apperror.NotFound("book")
	}
	if !b.Available {
		return apperror.New(apperror.ErrConflict, "book is currently on loan")
	}
	for loanID, l := range s.data.loans {
		if l.BookID != id {
			continue
		}
		if fineID, ok := s.data.finesByLoan[loanID]; ok && s.data.fines[fineID].Status == fines.StatusPending {
			return apperror.New(apperror.ErrConflict, "book has unpaid fines")
		}
	}

	for loanID, l := range s.data.loans {
		if l.BookID != id {
			continue
		}
		if fineID, ok := s.data.finesByLoan[loanID]; ok {
			delete(s.data.fines, fineID)
			delete(s.data.finesByLoan, loanID)
		}
		delete(s.data.loans, loanID)
	}
	delete(s.data.books, id)
	return nil
}

// Loans

func (s *Store) InsertLoan(ctx context.Context, l *circulation.Loan) error {
	defer s.lock(ctx)()

	if _, ok := s.data.loans[l.ID]; ok {
		return apperror.New(apperror.ErrConflict, "loan %s already exists", l.ID)
	}
	if _, ok := s.data.users[l.UserID]; !ok {
		return apperror.NotFound("user")
	}
	if _, ok := s.data.books[l.BookID]; !ok {
		return apperror.NotFound("book")
	}
	s.data.loans[l.ID] = bareLoan(l)
	return nil
}

func (s *Store) LoanByID(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	defer s.lock(ctx)()

	l, ok := s.data.loans[id]
	if !ok {
		return nil, apperror.NotFound("loan")
	}
	return &l, nil
}

func (s *Store) FindLoans(ctx context.Context, f circulation.Filter) ([]*circulation.Loan, error) {
	defer s.lock(ctx)()

	out := make([]*circulation.Loan, 0)
	for _, l := range s.data.loans {
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
			continue
		}
		if f.DueBefore != nil && !l.DueDate.Before(*f.DueBefore) {
			continue
		}
		if f.OpenOnly && l.ReturnDate != nil {
			continue
		}
		out = append(out, &l)
	}
	sortByCreated(out, func(l *circulation.Loan) (time.Time, uuid.UUID) { return l.CreatedAt, l.ID })
	return out, nil
}

func (s *Store) UpdateLoan(ctx context.Context, l *circulation.Loan, expectedVersion int) error {
	defer s.lock(ctx)()

	current, ok := s.data.loans[l.ID]
	if !ok {
		return apperror.NotFound("loan")
	}
	if current.Version != expectedVersion {
		return apperror.New(apperror.ErrConflict, "loan was modified concurrently")
	}
	s.data.loans[l.ID] = bareLoan(l)
	return nil
}

func bareLoan(l *circulation.Loan) circulation.Loan {
	stored := *l
	stored.User, stored.Book, stored.Fine = nil, nil, nil
	return stored
}

// Fines

func (s *Store) InsertFine(ctx context.Context, f *fines.Fine) error {
	defer s.lock(ctx)()

	if _, ok := s.data.finesByLoan[f.LoanID]; ok {
		return apperror.New(apperror.ErrConflict, "loan %s already has a fine", f.LoanID)
	}
	if _, ok := s.data.loans[f.LoanID]; !ok {
		return apperror.NotFound("loan")
	}
	s.data.fines[f.ID] = *f
	s.data.finesByLoan[f.LoanID] = f.ID
	return nil
}

func (s *Store) FineByID(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	defer s.lock(ctx)()

	f, ok := s.data.fines[id]
	if !ok {
		return nil, apperror.NotFound("fine")
	}
	return &f, nil
}

func (s *Store) FineByLoanID(ctx context.Context, loanID uuid.UUID) (*fines.Fine, error) {
	defer s.lock(ctx)()

	id, ok := s.data.finesByLoan[loanID]
	if !ok {
		return nil, apperror.NotFound("fine")
	}
	f := s.data.fines[id]
	return &f, nil
}

func (s *Store) FindFines(ctx context.Context, filter fines.Filter) ([]*fines.Fine, error) {
	defer s.lock(ctx)()

	out := make([]*fines.Fine, 0)
	for _, f := range s.data.fines {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.UserID != nil && s.data.loans[f.LoanID].UserID != *filter.UserID {
			continue
		}
		out = append(out, &f)
	}
	sortByCreated(out, func(f *fines.Fine) (time.Time, uuid.UUID) { return f.CreatedAt, f.ID })
	return out, nil
}

func (s *Store) UpdateFine(ctx context.Context, f *fines.Fine, expectedVersion int) error {
	defer s.lock(ctx)()

	current, ok := s.data.fines[f.ID]
	if !ok {
		return apperror.NotFound("fine")
	}
	if current.Version != expectedVersion {
		return apperror.New(apperror.ErrConflict, "fine was modified concurrently")
	}
	s.data.fines[f.ID] = *f
	return nil
}

func (s *Store) LoanSummaries(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID]*fines.LoanSummary, error) {
	defer s.lock(ctx)()

	out := make(map[uuid.UUID]*fines.LoanSummary, len(loanIDs))
	for _, id := range loanIDs {
		l, ok := s.data.loans[id]
		if !ok {
			continue
		}
		u := s.data.users[l.UserID]
		out[id] = &fines.LoanSummary{
			ID:         l.ID,
			UserID:     l.UserID,
			BookTitle:  s.data.books[l.BookID].Title,
			UserName:   u.FullName(),
			LoanDate:   l.LoanDate,
			DueDate:    l.DueDate,
			ReturnDate: l.ReturnDate,
		}
	}
	return out, nil
}

// Events

func (s *Store) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventlog.Event) error {
	defer s.lock(ctx)()

	stream := s.data.events[aggregateID]
	current := 0
	if n := len(stream); n > 0 {
		current = stream[n-1].Version
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: %w: expected version %d, current version %d",
			apperror.ErrConflict, eventlog.ErrConcurrencyConflict, expectedVersion, current)
	}
	if err := eventlog.CheckSequence(current, events); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrConflict, err)
	}

	for _, e := range events {
		s.data.nextEventID++
		e.ID = s.data.nextEventID
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		stream = append(stream, e)
	}
	s.data.events[aggregateID] = stream
	return nil
}

func (s *Store) Events(ctx context.Context, aggregateID uuid.UUID) ([]eventlog.Event, error) {
	defer s.lock(ctx)()

	return slices.Clone(s.data.events[aggregateID]), nil
}

func sortByCreated[T any](items []T, key func(T) (time.Time, uuid.UUID)) {
	slices.SortFunc(items, func(a, b T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		return cmp.Or(ta.Compare(tb), cmp.Compare(ia.String(), ib.String()))
	})
}
