package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/membership"
)

var userColumns = []any{
	"id", "email", "first_name", "last_name", "is_admin",
	"password_hash", "password_salt", "created_at", "updated_at",
}

func (s *Store) InsertUser(ctx context.Context, u *membership.User) error {
	return s.insert(ctx, "users", goqu.Record{
		"id":            u.ID.String(),
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"is_admin":      u.IsAdmin,
		"password_hash": u.PasswordHash,
		"password_salt": u.PasswordSalt,
		"created_at":    utc(u.CreatedAt),
		"updated_at":    utc(u.UpdatedAt),
	}, "user")
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	return s.user(ctx, goqu.Ex{"id": id.String()})
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*membership.User, error) {
	return s.user(ctx, goqu.Ex{"email": email})
}

func (s *Store) user(ctx context.Context, where goqu.Ex) (*membership.User, error) {
	var u membership.User
	if err := s.get(ctx, &u, s.from("users").Select(userColumns...).Where(where), "user"); err != nil {
		return nil, err
	}
	normalizeUser(&u)
	return &u, nil
}

func (s *Store) FindUsers(ctx context.Context) ([]*membership.User, error) {
	users := make([]*membership.User, 0)
	ds := s.from("users").Select(userColumns...).Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if err := s.selectAll(ctx, &users, ds, "user"); err != nil {
		return nil, err
	}
	for _, u := range users {
		normalizeUser(u)
	}
	return users, nil
}

func normalizeUser(u *membership.User) {
	normalizeTime(&u.CreatedAt)
	normalizeTime(&u.UpdatedAt)
}
