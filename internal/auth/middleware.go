package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/httpx"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// UserLookup loads the account a token was issued for.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error)
}

// Middleware guards routes with bearer tokens.
type Middleware struct {
	issuer *Issuer
	users  UserLookup
	logger *slog.Logger
}

func NewMiddleware(issuer *Issuer, users UserLookup, logger *slog.Logger) *Middleware {
	return &Middleware{issuer: issuer, users: users, logger: logger}
}

// Authenticate requires a valid bearer token for a user that still exists and
// attaches that user to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httpx.WriteError(w, r, m.logger, apperror.New(apperror.ErrUnauthorized, "authentication required"))
			return
		}

		claims, err := m.issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			httpx.WriteError(w, r, m.logger, err)
			return
		}

		user, err := m.users.GetUser(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				err = apperror.New(apperror.ErrUnauthorized, "user no longer exists")
			}
			httpx.WriteError(w, r, m.logger, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(membership.WithUser(r.Context(), user)))
	})
}

// RequireAdmin rejects authenticated non-admins with 403. Mount it after Authenticate.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := membership.UserFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, m.logger, apperror.New(apperror.ErrUnauthorized, "authentication required"))
			return
		}
		if !user.IsAdmin {
			httpx.WriteError(w, r, m.logger, apperror.New(apperror.ErrForbidden, "admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
