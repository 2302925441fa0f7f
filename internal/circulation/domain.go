// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// Status of a loan.
type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
	StatusOverdue  Status = "overdue"
)

// Loan represents a book borrowed by a user until a due date.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"userId" db:"user_id"`
	BookID     uuid.UUID  `json:"bookId" db:"book_id"`
	LoanDate   time.Time  `json:"loanDate" db:"loan_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate" db:"return_date"`
	Status     Status     `json:"status" db:"status"`
	Version    int        `json:"version" db:"version"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`

	User *membership.User `json:"user,omitempty" db:"-"`
	Book *catalog.Book    `json:"book,omitempty" db:"-"`
	Fine *fines.Fine      `json:"fine,omitempty" db:"-"`
}

// IsOpen reports whether the book is still out: the loan is active, or was
// marked overdue by the sweep and has not come back yet.
func (l *Loan) IsOpen() bool {
	return l.ReturnDate == nil && (l.Status == StatusActive || l.Status == StatusOverdue)
}

// Filter narrows FindLoans. Zero values match everything.
type Filter struct {
	UserID    *uuid.UUID
	Statuses  []Status
	DueBefore *time.Time
	OpenOnly  bool
}

// OpenInput is the request to lend a book.
type OpenInput struct {
	UserID  uuid.UUID
	BookID  uuid.UUID
	DueDate time.Time
}

// Config holds the fine policy applied on return.
type Config struct {
	DailyFineRate   decimal.Decimal
	GracePeriodDays int
}

// LoanOpenedEvent is recorded when a loan is created.
type LoanOpenedEvent struct {
	LoanID  uuid.UUID `json:"loanId"`
	UserID  uuid.UUID `json:"userId"`
	BookID  uuid.UUID `json:"bookId"`
	DueDate time.Time `json:"dueDate"`
}

// LoanReturnedEvent is recorded when the book comes back.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID  `json:"loanId"`
	BookID     uuid.UUID  `json:"bookId"`
	ReturnDate time.Time  `json:"returnDate"`
	Status     Status     `json:"status"`
	FineID     *uuid.UUID `json:"fineId,omitempty"`
}

// LoanMarkedOverdueEvent is recorded by the overdue sweep.
type LoanMarkedOverdueEvent struct {
	LoanID  uuid.UUID `json:"loanId"`
	DueDate time.Time `json:"dueDate"`
}
