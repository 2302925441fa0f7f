// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/eventlog"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
)

var (
	tracer = otel.Tracer("librarydesk/circulation")
	meter  = otel.Meter("librarydesk/circulation")
)

const day = 24 * time.Hour

// service implements the Service interface.
type service struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	loansOpened   metric.Int64Counter
	loansReturned metric.Int64Counter
	finesIssued   metric.Int64Counter
	markedOverdue metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// NewService creates a new circulation service instance.
func NewService(store Store, cfg Config, opts ...Option) (Service, error) {
	if cfg.DailyFineRate.IsNegative() {
		return nil, fmt.Errorf("daily fine rate must not be negative")
	}
	if cfg.GracePeriodDays < 0 {
		return nil, fmt.Errorf("grace period must not be negative")
	}

	s := &service{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&s.loansOpened, "loans_opened", "Loans opened"},
		{&s.loansReturned, "loans_returned", "Loans returned"},
		{&s.finesIssued, "fines_issued", "Fines issued on late returns"},
		{&s.markedOverdue, "loans_marked_overdue", "Loans moved to overdue by the sweep"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	return s, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Open lends an available book to a user.
func (s *service) Open(ctx context.Context, in OpenInput) (*Loan, error) {
	ctx, span := tracer.Start(ctx, "circulation.open_loan", trace.WithAttributes(
		attribute.String("user.id", in.UserID.String()),
		attribute.String("book.id", in.BookID.String()),
	))
	defer span.End()

	now := s.clock()
	due := in.DueDate.UTC().Truncate(time.Microsecond)
	if !due.After(now) {
		return nil, apperror.New(apperror.ErrValidation, "dueDate must be in the future")
	}

	loan := &Loan{
		ID:        uuid.New(),
		UserID:    in.UserID,
		BookID:    in.BookID,
		LoanDate:  now,
		DueDate:   due,
		Status:    StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.store.UserByID(ctx, in.UserID)
		if err != nil {
			return notFound(err, "user")
		}
		book, err := s.store.BookByID(ctx, in.BookID)
		if err != nil {
			return notFound(err, "book")
		}
		if !book.Available {
			return apperror.New(apperror.ErrConflict, "book is not available")
		}

		changed, err := s.store.SetBookAvailable(ctx, book.ID, true, false)
		if err != nil {
			return err
		}
		if !changed {
			return apperror.New(apperror.ErrConflict, "book is not available")
		}
		book.Available = false

		if err := s.store.InsertLoan(ctx, loan); err != nil {
			return err
		}

		event, err := eventlog.New(loan.ID, eventlog.AggregateLoan, eventlog.LoanOpened, loan.Version, LoanOpenedEvent{
			LoanID:  loan.ID,
			UserID:  loan.UserID,
			BookID:  loan.BookID,
			DueDate: loan.DueDate,
		}, now)
		if err != nil {
			return err
		}
		if err := s.store.AppendEvents(ctx, loan.ID, eventlog.AggregateLoan, 0, []eventlog.Event{event}); err != nil {
			return err
		}

		loan.User, loan.Book = user, book
		return nil
	})
	if err != nil {
		s.logRejected(ctx, "loan open rejected", err, "book_id", in.BookID)
		return nil, fmt.Errorf("failed to open loan: %w", err)
	}

	s.loansOpened.Add(ctx, 1)
	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))
	s.logger.InfoContext(ctx, "loan opened", "loan_id", loan.ID, "book_id", loan.BookID, "user_id", loan.UserID)
	return loan, nil
}

// Return closes a loan, issuing a fine when the book comes back after the
// grace-adjusted due date. returnDate defaults to now.
func (s *service) Return(ctx context.Context, loanID uuid.UUID, returnDate *time.Time) (*Loan, error) {
	ctx, span := tracer.Start(ctx, "circulation.return_loan", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
	))
	defer span.End()

	now := s.clock()
	returned := now
	if returnDate != nil {
		returned = returnDate.UTC().Truncate(time.Microsecond)
	}

	var (
		loan *Loan
		fine *fines.Fine
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		loan, err = s.store.LoanByID(ctx, loanID)
		if err != nil {
			return notFound(err, "loan")
		}
		if loan.Status == StatusReturned || loan.ReturnDate != nil {
			return apperror.New(apperror.ErrConflict, "loan has already been returned")
		}
		if returned.Before(loan.LoanDate) {
			return apperror.New(apperror.ErrValidation, "returnDate must not be before loanDate")
		}

		expected := loan.Version
		loan.ReturnDate = &returned
		loan.Status = StatusReturned
		loan.Version++
		loan.UpdatedAt = now

		if daysLate := DaysLate(loan.DueDate, returned, s.cfg.GracePeriodDays); daysLate > 0 {
			loan.Status = StatusOverdue
			fine = &fines.Fine{
				ID:        uuid.New(),
				LoanID:    loan.ID,
				Amount:    FineAmount(daysLate, s.cfg.DailyFineRate),
				CreatedAt: now,
				Status:    fines.StatusPending,
				Version:   1,
			}
			if err := s.store.InsertFine(ctx, fine); err != nil {
				return err
			}
			issued, err := eventlog.New(fine.ID, eventlog.AggregateFine, eventlog.FineIssued, fine.Version, fines.IssuedEvent{
				FineID:   fine.ID,
				LoanID:   loan.ID,
				Amount:   fine.Amount,
				DaysLate: daysLate,
			}, now)
			if err != nil {
				return err
			}
			if err := s.store.AppendEvents(ctx, fine.ID, eventlog.AggregateFine, 0, []eventlog.Event{issued}); err != nil {
				return err
			}
		}

		if err := s.store.UpdateLoan(ctx, loan, expected); err != nil {
			return err
		}
		if _, err := s.store.SetBookAvailable(ctx, loan.BookID, false, true); err != nil {
			return err
		}

		payload := LoanReturnedEvent{
			LoanID:     loan.ID,
			BookID:     loan.BookID,
			ReturnDate: returned,
			Status:     loan.Status,
		}
		if fine != nil {
			payload.FineID = &fine.ID
		}
		event, err := eventlog.New(loan.ID, eventlog.AggregateLoan, eventlog.LoanReturned, loan.Version, payload, now)
		if err != nil {
			return err
		}
		if err := s.store.AppendEvents(ctx, loan.ID, eventlog.AggregateLoan, expected, []eventlog.Event{event}); err != nil {
			return err
		}

		loan.Fine = fine
		return s.populate(ctx, []*Loan{loan})
	})
	if err != nil {
		s.logRejected(ctx, "loan return rejected", err, "loan_id", loanID)
		return nil, fmt.Errorf("failed to return loan: %w", err)
	}

	s.loansReturned.Add(ctx, 1)
	if fine != nil {
		s.finesIssued.Add(ctx, 1)
		s.logger.InfoContext(ctx, "loan returned late", "loan_id", loan.ID, "fine_id", fine.ID, "amount", fine.Amount.StringFixed(2))
	} else {
		s.logger.InfoContext(ctx, "loan returned", "loan_id", loan.ID)
	}
	return loan, nil
}

// DaysLate counts started days between the grace-adjusted due date and the
// return. A return on or before that date is zero days late.
func DaysLate(due, returned time.Time, graceDays int) int {
	effective := due.AddDate(0, 0, graceDays)
	if !returned.After(effective) {
		return 0
	}
	late := returned.Sub(effective)
	days := int(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// FineAmount is daysLate × rate, rounded to cents.
func FineAmount(daysLate int, rate decimal.Decimal) fines.Amount {
	return fines.NewAmount(rate.Mul(decimal.NewFromInt(int64(daysLate))))
}

// SweepOverdue marks active loans past their due date as overdue. It never
// touches books or fines and is idempotent. Loans changed concurrently are skipped.
func (s *service) SweepOverdue(ctx context.Context) ([]*Loan, error) {
	ctx, span := tracer.Start(ctx, "circulation.sweep_overdue")
	defer span.End()

	now := s.clock()
	candidates, err := s.store.FindLoans(ctx, Filter{
		Statuses:  []Status{StatusActive},
		DueBefore: &now,
		OpenOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue candidates: %w", err)
	}

	updated := make([]*Loan, 0, len(candidates))
	for _, loan := range candidates {
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			expected := loan.Version
			loan.Status = StatusOverdue
			loan.Version++
			loan.UpdatedAt = now
			if err := s.store.UpdateLoan(ctx, loan, expected); err != nil {
				return err
			}

			event, err := eventlog.New(loan.ID, eventlog.AggregateLoan, eventlog.LoanMarkedOverdue, loan.Version, LoanMarkedOverdueEvent{
				LoanID:  loan.ID,
				DueDate: loan.DueDate,
			}, now)
			if err != nil {
				return err
			}
			return s.store.AppendEvents(ctx, loan.ID, eventlog.AggregateLoan, expected, []eventlog.Event{event})
		})
		switch {
		case err == nil:
			updated = append(updated, loan)
		case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrNotFound):
			s.logger.DebugContext(ctx, "overdue sweep skipped loan", "loan_id", loan.ID, "error", err)
		default:
			return nil, fmt.Errorf("failed to mark loan %s overdue: %w", loan.ID, err)
		}
	}

	if len(updated) > 0 {
		s.markedOverdue.Add(ctx, int64(len(updated)))
	}
	span.SetAttributes(attribute.Int("loans.updated", len(updated)))
	s.logger.InfoContext(ctx, "overdue sweep finished", "candidates", len(candidates), "updated", len(updated))
	return updated, nil
}

// List returns every loan with its relations.
func (s *service) List(ctx context.Context) ([]*Loan, error) {
	return s.find(ctx, Filter{})
}

// Get returns one loan with its relations.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*Loan, error) {
	loan, err := s.store.LoanByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "loan")
	}
	if err := s.populate(ctx, []*Loan{loan}); err != nil {
		return nil, err
	}
	return loan, nil
}

// ByUser returns the loans of one user.
func (s *service) ByUser(ctx context.Context, userID uuid.UUID) ([]*Loan, error) {
	if _, err := s.store.UserByID(ctx, userID); err != nil {
		return nil, notFound(err, "user")
	}
	return s.find(ctx, Filter{UserID: &userID})
}

// Overdue lists open loans whose due date has passed, whether or not the
// sweep has marked them yet.
func (s *service) Overdue(ctx context.Context) ([]*Loan, error) {
	now := s.clock()
	return s.find(ctx, Filter{
		Statuses:  []Status{StatusActive, StatusOverdue},
		DueBefore: &now,
		OpenOnly:  true,
	})
}

// History returns the lifecycle events of a loan and of its fine, oldest first.
func (s *service) History(ctx context.Context, loanID uuid.UUID) ([]eventlog.Event, error) {
	if _, err := s.store.LoanByID(ctx, loanID); err != nil {
		return nil, notFound(err, "loan")
	}

	events, err := s.store.Events(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan events: %w", err)
	}

	fine, err := s.store.FineByLoanID(ctx, loanID)
	switch {
	case err == nil:
		fineEvents, err := s.store.Events(ctx, fine.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load fine events: %w", err)
		}
		events = append(events, fineEvents...)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("failed to load loan fine: %w", err)
	}

	slices.SortStableFunc(events, func(a, b eventlog.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return events, nil
}

func (s *service) find(ctx context.Context, filter Filter) ([]*Loan, error) {
	loans, err := s.store.FindLoans(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	if err := s.populate(ctx, loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// populate attaches user, book and fine to each loan.
func (s *service) populate(ctx context.Context, loans []*Loan) error {
	users := make(map[uuid.UUID]*membership.User)
	books := make(map[uuid.UUID]*catalog.Book)

	for _, loan := range loans {
		if _, ok := users[loan.UserID]; !ok {
			u, err := s.store.UserByID(ctx, loan.UserID)
			if err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return fmt.Errorf("failed to load loan user: %w", err)
			}
			users[loan.UserID] = u
		}
		if _, ok := books[loan.BookID]; !ok {
			b, err := s.store.BookByID(ctx, loan.BookID)
			if err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return fmt.Errorf("failed to load loan book: %w", err)
			}
			books[loan.BookID] = b
		}
		loan.User, loan.Book = users[loan.UserID], books[loan.BookID]

		if loan.Fine == nil && loan.ReturnDate != nil {
			f, err := s.store.FineByLoanID(ctx, loan.ID)
			if err != nil && !errors.Is(err, apperror.ErrNotFound) {
				return fmt.Errorf("failed to load loan fine: %w", err)
			}
			loan.Fine = f
		}
	}
	return nil
}

func (s *service) logRejected(ctx context.Context, msg string, err error, args ...any) {
	if apperror.HTTPStatus(err) < 500 {
		s.logger.DebugContext(ctx, msg, append(args, "error", err)...)
		return
	}
	s.logger.ErrorContext(ctx, msg, append(args, "error", err)...)
}

func notFound(err error, what string) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFound(what)
	}
	return err
}
