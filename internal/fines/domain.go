// internal/fines/domain.go

// Package fines is the fine ledger: payment, reads and aggregate reporting
// over the fines issued by late returns.
package fines

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status of a fine.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Amount is a money value. It is persisted and rendered with two decimals.
type Amount struct {
	decimal.Decimal
}

// NewAmount rounds d to cents.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d.Round(2)}
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts the same forms as decimal.Decimal.
func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) {
	return a.StringFixed(2), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	if err := a.Decimal.Scan(src); err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	return nil
}

// Plus returns a + b.
func (a Amount) Plus(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Add(b.Decimal)}
}

// Fine is the penalty attached to a loan returned after its due date.
type Fine struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	LoanID    uuid.UUID  `json:"loanId" db:"loan_id"`
	Amount    Amount     `json:"amount" db:"amount"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	PaidAt    *time.Time `json:"paidAt" db:"paid_at"`
	Status    Status     `json:"status" db:"status"`
	Version   int        `json:"version" db:"version"`
}

// IsPaid reports whether the fine has been settled.
func (f *Fine) IsPaid() bool {
	return f.Status == StatusPaid || f.PaidAt != nil
}

// LoanSummary is the slice of a loan shown alongside its fine.
type LoanSummary struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"userId" db:"user_id"`
	BookTitle  string     `json:"bookTitle" db:"book_title"`
	UserName   string     `json:"userName" db:"user_name"`
	LoanDate   time.Time  `json:"loanDate" db:"loan_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate" db:"return_date"`
}

// Detail is a fine together with its loan summary.
type Detail struct {
	*Fine
	Loan *LoanSummary `json:"loan"`
}

// PendingTotal is the outstanding balance of one user.
type PendingTotal struct {
	UserID            uuid.UUID `json:"userId"`
	UserName          string    `json:"userName,omitempty"`
	TotalPendingFines Amount    `json:"totalPendingFines"`
}

// Summary aggregates every fine in the ledger.
type Summary struct {
	TotalCount    int    `json:"totalCount"`
	PendingCount  int    `json:"pendingCount"`
	PaidCount     int    `json:"paidCount"`
	TotalAmount   Amount `json:"totalAmount"`
	PendingAmount Amount `json:"pendingAmount"`
	PaidAmount    Amount `json:"paidAmount"`
}

// Filter narrows FindFines. Zero values match everything.
type Filter struct {
	UserID *uuid.UUID
	Status Status
}

// PaidEvent is the payload of a FinePaid event.
type PaidEvent struct {
	FineID uuid.UUID `json:"fineId"`
	LoanID uuid.UUID `json:"loanId"`
	Amount Amount    `json:"amount"`
	PaidAt time.Time `json:"paidAt"`
}

// IssuedEvent is the payload of a FineIssued event.
type IssuedEvent struct {
	FineID   uuid.UUID `json:"fineId"`
	LoanID   uuid.UUID `json:"loanId"`
	Amount   Amount    `json:"amount"`
	DaysLate int       `json:"daysLate"`
}
