// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jules-labs/librarydesk/internal/apperror"
)

var tracer = otel.Tracer("librarydesk/membership")

// service implements the Service interface.
type service struct {
	store       Store
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the membership service.
type Option func(*service)

// WithRateLimiter replaces the default limiter applied to register and login.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.rateLimiter = l }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:       store,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/5), 5), // 5 requests per minute
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new non-admin user.
func (s *service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperror.ErrRateLimited
	}
	ctx, span := tracer.Start(ctx, "membership.register")
	defer span.End()

	return s.create(ctx, in, false)
}

// EnsureAdmin creates an administrator unless the email is already registered.
func (s *service) EnsureAdmin(ctx context.Context, in RegisterInput) (*User, error) {
	ctx, span := tracer.Start(ctx, "membership.ensure_admin")
	defer span.End()

	existing, err := s.store.UserByEmail(ctx, normalizeEmail(in.Email))
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}
	return s.create(ctx, in, true)
}

func (s *service) create(ctx context.Context, in RegisterInput, admin bool) (*User, error) {
	if len(in.Password) < 6 {
		return nil, apperror.New(apperror.ErrValidation, "password must be at least 6")
	}

	passwordHash, salt, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	user := &User{
		ID:           uuid.New(),
		Email:        normalizeEmail(in.Email),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsAdmin:      admin,
		PasswordHash: passwordHash,
		PasswordSalt: salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.New(apperror.ErrConflict, "email %s is already registered", user.Email)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "admin", admin)
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, apperror.ErrRateLimited
	}
	ctx, span := tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	invalid := apperror.New(apperror.ErrUnauthorized, "invalid email or password")

	user, err := s.store.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, user.PasswordSalt, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "login rejected", "user_id", user.ID)
		return nil, invalid
	}

	return user, nil
}

// GetUser retrieves a user by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("user")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns every user ordered by creation.
func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.FindUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
