// internal/fines/implementation.go
package fines

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/eventlog"
)

var (
	tracer = otel.Tracer("librarydesk/fines")
	meter  = otel.Meter("librarydesk/fines")
)

type ledger struct {
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	finesPaid metric.Int64Counter
}

// Option configures the ledger.
type Option func(*ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *ledger) { l.now = now }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *ledger) { l.logger = logger }
}

// NewService creates the fine ledger.
func NewService(store Store, opts ...Option) (Service, error) {
	l := &ledger{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	var err error
	l.finesPaid, err = meter.Int64Counter("fines_paid", metric.WithDescription("Fines settled"))
	if err != nil {
		return nil, fmt.Errorf("create fines_paid counter: %w", err)
	}
	return l, nil
}

// Pay settles a pending fine. paidAt defaults to now.
func (l *ledger) Pay(ctx context.Context, id uuid.UUID, paidAt *time.Time) (*Fine, error) {
	ctx, span := tracer.Start(ctx, "fines.pay", trace.WithAttributes(
		attribute.String("fine.id", id.String()),
	))
	defer span.End()

	at := l.now()
	if paidAt != nil {
		at = *paidAt
	}
	at = at.UTC().Truncate(time.Microsecond)

	var fine *Fine
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		fine, err = l.store.FineByID(ctx, id)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return apperror.NotFound("fine")
			}
			return err
		}
		if fine.IsPaid() {
			return apperror.New(apperror.ErrConflict, "fine is already paid")
		}

		expected := fine.Version
		fine.Status = StatusPaid
		fine.PaidAt = &at
		fine.Version++
		if err := l.store.UpdateFine(ctx, fine, expected); err != nil {
			return err
		}

		event, err := eventlog.New(fine.ID, eventlog.AggregateFine, eventlog.FinePaid, fine.Version, PaidEvent{
			FineID: fine.ID,
			LoanID: fine.LoanID,
			Amount: fine.Amount,
			PaidAt: at,
		}, at)
		if err != nil {
			return err
		}
		return l.store.AppendEvents(ctx, fine.ID, eventlog.AggregateFine, expected, []eventlog.Event{event})
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			l.logger.DebugContext(ctx, "fine payment rejected", "fine_id", id, "error", err)
		}
		return nil, fmt.Errorf("failed to pay fine: %w", err)
	}

	l.finesPaid.Add(ctx, 1)
	l.logger.InfoContext(ctx, "fine paid", "fine_id", fine.ID, "amount", fine.Amount.StringFixed(2))
	return fine, nil
}

// Get returns one fine with its loan summary.
func (l *ledger) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	fine, err := l.store.FineByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("fine")
		}
		return nil, fmt.Errorf("failed to get fine: %w", err)
	}
	details, err := l.details(ctx, []*Fine{fine})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

// List returns every fine.
func (l *ledger) List(ctx context.Context) ([]*Detail, error) {
	fines, err := l.store.FindFines(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list fines: %w", err)
	}
	return l.details(ctx, fines)
}

// ByUser returns the fines on loans of one user.
func (l *ledger) ByUser(ctx context.Context, userID uuid.UUID) ([]*Detail, error) {
	if err := l.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	fines, err := l.store.FindFines(ctx, Filter{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list user fines: %w", err)
	}
	return l.details(ctx, fines)
}

// PendingTotal sums the unpaid fines of one user.
func (l *ledger) PendingTotal(ctx context.Context, userID uuid.UUID) (*PendingTotal, error) {
	if err := l.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	fines, err := l.store.FindFines(ctx, Filter{UserID: &userID, Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to sum pending fines: %w", err)
	}

	total := &PendingTotal{UserID: userID}
	for _, f := range fines {
		total.TotalPendingFines = total.TotalPendingFines.Plus(f.Amount)
	}
	return total, nil
}

// Summary aggregates counts and amounts over the whole ledger.
func (l *ledger) Summary(ctx context.Context) (*Summary, error) {
	fines, err := l.store.FindFines(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize fines: %w", err)
	}
	return summarize(fines), nil
}

func summarize(fines []*Fine) *Summary {
	s := &Summary{TotalCount: len(fines)}
	for _, f := range fines {
		s.TotalAmount = s.TotalAmount.Plus(f.Amount)
		if f.IsPaid() {
			s.PaidCount++
			s.PaidAmount = s.PaidAmount.Plus(f.Amount)
		} else {
			s.PendingCount++
			s.PendingAmount = s.PendingAmount.Plus(f.Amount)
		}
	}
	return s
}

// PendingTotalsByUser groups unpaid fines by the user who holds the loan.
func (l *ledger) PendingTotalsByUser(ctx context.Context) ([]*PendingTotal, error) {
	fines, err := l.store.FindFines(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending fines: %w", err)
	}
	summaries, err := l.store.LoanSummaries(ctx, loanIDs(fines))
	if err != nil {
		return nil, fmt.Errorf("failed to load loan summaries: %w", err)
	}

	byUser := make(map[uuid.UUID]*PendingTotal)
	for _, f := range fines {
		loan, ok := summaries[f.LoanID]
		if !ok {
			return nil, fmt.Errorf("fine %s references missing loan %s", f.ID, f.LoanID)
		}
		total, ok := byUser[loan.UserID]
		if !ok {
			total = &PendingTotal{UserID: loan.UserID, UserName: loan.UserName}
			byUser[loan.UserID] = total
		}
		total.TotalPendingFines = total.TotalPendingFines.Plus(f.Amount)
	}

	totals := make([]*PendingTotal, 0, len(byUser))
	for _, t := range byUser {
		totals = append(totals, t)
	}
	slices.SortFunc(totals, func(a, b *PendingTotal) int {
		return cmp.Or(
			b.TotalPendingFines.Cmp(a.TotalPendingFines.Decimal),
			cmp.Compare(a.UserID.String(), b.UserID.String()),
		)
	})
	return totals, nil
}

func (l *ledger) checkUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := l.store.UserByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("user")
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	return nil
}

func (l *ledger) details(ctx context.Context, fines []*Fine) ([]*Detail, error) {
	summaries, err := l.store.LoanSummaries(ctx, loanIDs(fines))
	if err != nil {
		return nil, fmt.Errorf("failed to load loan summaries: %w", err)
	}
	out := make([]*Detail, 0, len(fines))
	for _, f := range fines {
		out = append(out, &Detail{Fine: f, Loan: summaries[f.LoanID]})
	}
	return out, nil
}

func loanIDs(fines []*Fine) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(fines))
	for _, f := range fines {
		ids = append(ids, f.LoanID)
	}
	return ids
}
