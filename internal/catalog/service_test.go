package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/logging"
	"github.com/jules-labs/librarydesk/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func setup() (catalog.Service, *memory.Store) {
	store := memory.New()
	return catalog.NewService(store, logging.Discard()), store
}

func Test_AddBook_StartsAvailable(t *testing.T) {
	svc, _ := setup()

	book, err := svc.AddBook(context.Background(), catalog.BookInput{Title: "Dune", Author: "Frank Herbert", Year: 1965})
	require.NoError(t, err)

	assert.True(t, book.Available)
	assert.Equal(t, 1, book.Version)

	got, err := svc.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
}

func Test_AddBook_UnknownWriter(t *testing.T) {
	svc, _ := setup()
	missing := uuid.New()

	_, err := svc.AddBook(context.Background(), catalog.BookInput{Title: "X", Author: "Y", WriterID: &missing})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func Test_UpdateBook_KeepsAvailability(t *testing.T) {
	svc, store := setup()
	ctx := context.Background()

	book, err := svc.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	changed, err := store.SetBookAvailable(ctx, book.ID, true, false)
	require.NoError(t, err)
	require.True(t, changed)

	updated, err := svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Title: ptr("Dune Messiah"), Year: ptr(1969)})
	require.NoError(t, err)

	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 2, updated.Version)
	assert.False(t, updated.Available)

	stored, err := store.BookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, stored.Available)
}

func Test_UpdateBook_KeepsFieldsNotSent(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	austen, err := svc.AddWriter(ctx, catalog.WriterInput{FirstName: "Jane", LastName: "Austen"})
	require.NoError(t, err)
	book, err := svc.AddBook(ctx, catalog.BookInput{
		Title: "Emma", Author: "Jane Austen", Publisher: "John Murray", Type: "novel",
		Photo: ptr("emma.jpg"), WriterID: &austen.ID,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Year: ptr(1815)})
	require.NoError(t, err)

	assert.Equal(t, 1815, updated.Year)
	assert.Equal(t, "Emma", updated.Title)
	assert.Equal(t, "Jane Austen", updated.Author)
	assert.Equal(t, "John Murray", updated.Publisher)
	assert.Equal(t, "novel", updated.Type)
	require.NotNil(t, updated.Photo)
	assert.Equal(t, "emma.jpg", *updated.Photo)
	require.NotNil(t, updated.WriterID)
	assert.Equal(t, austen.ID, *updated.WriterID)

	stored, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WriterID)
	assert.Equal(t, austen.ID, *stored.WriterID)
}

func Test_UpdateBook_RejectsBlankTitle(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	book, err := svc.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Title: ptr(" ")})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	missing := uuid.New()
	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookPatch{WriterID: &missing})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func Test_RemoveBook(t *testing.T) {
	svc, store := setup()
	ctx := context.Background()

	book, err := svc.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	_, err = store.SetBookAvailable(ctx, book.ID, true, false)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RemoveBook(ctx, book.ID), apperror.ErrConflict)

	_, err = store.SetBookAvailable(ctx, book.ID, false, true)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveBook(ctx, book.ID))

	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, svc.RemoveBook(ctx, book.ID), apperror.ErrNotFound)
}

func Test_Search(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	for _, in := range []catalog.BookInput{
		{Title: "Dune", Author: "Frank Herbert"},
		{Title: "Emma", Author: "Jane Austen"},
		{Title: "Persuasion", Author: "Jane Austen"},
	} {
		_, err := svc.AddBook(ctx, in)
		require.NoError(t, err)
	}

	all, err := svc.Search(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	austen, err := svc.Search(ctx, "austen")
	require.NoError(t, err)
	assert.Len(t, austen, 2)

	dune, err := svc.Search(ctx, "DUN")
	require.NoError(t, err)
	require.Len(t, dune, 1)
	assert.Equal(t, "Dune", dune[0].Title)
}

func Test_ListWriters_GroupsBooks(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	austen, err := svc.AddWriter(ctx, catalog.WriterInput{FirstName: "Jane", LastName: "Austen", Nationality: "British", Age: 41})
	require.NoError(t, err)
	_, err = svc.AddWriter(ctx, catalog.WriterInput{FirstName: "Nobody", LastName: "Yet"})
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, catalog.BookInput{Title: "Emma", Author: "Jane Austen", WriterID: &austen.ID})
	require.NoError(t, err)
	_, err = svc.AddBook(ctx, catalog.BookInput{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)

	writers, err := svc.ListWriters(ctx)
	require.NoError(t, err)
	require.Len(t, writers, 2)

	byName := map[string]*catalog.Writer{}
	for _, w := range writers {
		byName[w.LastName] = w
	}
	require.Len(t, byName["Austen"].Books, 1)
	assert.Equal(t, "Emma", byName["Austen"].Books[0].Title)
	assert.NotNil(t, byName["Yet"].Books)
	assert.Empty(t, byName["Yet"].Books)
}
