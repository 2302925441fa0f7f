package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/membership"
)

func Test_RunInTx_NestedCallsJoin(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.InsertUser(ctx, &membership.User{ID: uuid.New(), Email: "outer@library.test", CreatedAt: now}))
		return s.RunInTx(ctx, func(ctx context.Context) error {
			require.NoError(t, s.InsertUser(ctx, &membership.User{ID: uuid.New(), Email: "inner@library.test", CreatedAt: now}))
			return errors.New("inner failed")
		})
	})
	require.Error(t, err)

	users, err := s.FindUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "the failed inner call discards the whole transaction")
}

func Test_ReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := &catalog.Book{ID: uuid.New(), Title: "Dune", Available: true, Version: 1}
	require.NoError(t, s.InsertBook(ctx, b))

	got, err := s.BookByID(ctx, b.ID)
	require.NoError(t, err)
	got.Available = false
	got.Title = "changed"

	again, err := s.BookByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, again.Available)
	assert.Equal(t, "Dune", again.Title)
}

func Test_UserByEmail_IsExact(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, &membership.User{ID: uuid.New(), Email: "ada@library.test"}))

	_, err := s.UserByEmail(ctx, "bob@library.test")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	err = s.InsertUser(ctx, &membership.User{ID: uuid.New(), Email: "ada@library.test"})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}
