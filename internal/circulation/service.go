// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/eventlog"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// Service defines the interface for the loan lifecycle.
type Service interface {
	Open(ctx context.Context, in OpenInput) (*Loan, error)
	Return(ctx context.Context, loanID uuid.UUID, returnDate *time.Time) (*Loan, error)
	SweepOverdue(ctx context.Context) ([]*Loan, error)

	List(ctx context.Context) ([]*Loan, error)
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)
	ByUser(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	Overdue(ctx context.Context) ([]*Loan, error)
	History(ctx context.Context, loanID uuid.UUID) ([]eventlog.Event, error)
}

// Store is the persistence the lifecycle engine needs. Every mutation of one
// operation runs inside a single RunInTx call.
//
// SetBookAvailable is a compare-and-set on the availability flag and reports
// whether the row changed. UpdateLoan is guarded by expectedVersion and fails
// with a conflict when the loan moved on.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	UserByID(ctx context.Context, id uuid.UUID) (*membership.User, error)
	BookByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	SetBookAvailable(ctx context.Context, id uuid.UUID, from, to bool) (bool, error)

	InsertLoan(ctx context.Context, l *Loan) error
	LoanByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	FindLoans(ctx context.Context, filter Filter) ([]*Loan, error)
	UpdateLoan(ctx context.Context, l *Loan, expectedVersion int) error

	InsertFine(ctx context.Context, f *fines.Fine) error
	FineByLoanID(ctx context.Context, loanID uuid.UUID) (*fines.Fine, error)

	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventlog.Event) error
	Events(ctx context.Context, aggregateID uuid.UUID) ([]eventlog.Event, error)
}
