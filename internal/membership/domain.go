// internal/membership/domain.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a registered library patron or administrator.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"firstName" db:"first_name"`
	LastName     string    `json:"lastName" db:"last_name"`
	IsAdmin      bool      `json:"isAdmin" db:"is_admin"`
	PasswordHash string    `json:"-" db:"password_hash"`
	PasswordSalt string    `json:"-" db:"password_salt"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// FullName is "First Last".
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
}

type ctxKey struct{}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok && u != nil
}
