// internal/fines/service.go
package fines

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/eventlog"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// Service defines the interface for the fine ledger.
type Service interface {
	Pay(ctx context.Context, id uuid.UUID, paidAt *time.Time) (*Fine, error)
	Get(ctx context.Context, id uuid.UUID) (*Detail, error)
	List(ctx context.Context) ([]*Detail, error)
	ByUser(ctx context.Context, userID uuid.UUID) ([]*Detail, error)
	PendingTotal(ctx context.Context, userID uuid.UUID) (*PendingTotal, error)
	Summary(ctx context.Context) (*Summary, error)
	PendingTotalsByUser(ctx context.Context) ([]*PendingTotal, error)
}

// Store is the persistence the ledger needs.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	UserByID(ctx context.Context, id uuid.UUID) (*membership.User, error)
	FineByID(ctx context.Context, id uuid.UUID) (*Fine, error)
	FindFines(ctx context.Context, filter Filter) ([]*Fine, error)
	UpdateFine(ctx context.Context, f *Fine, expectedVersion int) error
	LoanSummaries(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID]*LoanSummary, error)
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventlog.Event) error
}
