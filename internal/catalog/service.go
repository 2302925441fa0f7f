// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in BookInput) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, in BookPatch) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, query string) ([]*Book, error)
	AddWriter(ctx context.Context, in WriterInput) (*Writer, error)
	ListWriters(ctx context.Context) ([]*Writer, error)
}

// Store is the persistence the catalog service needs.
//
// UpdateBook writes the descriptive columns and the version, guarded by
// expectedVersion. DeleteBook fails with a conflict while the book is lent out
// or any of its loans has an unpaid fine.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertBook(ctx context.Context, b *Book) error
	BookByID(ctx context.Context, id uuid.UUID) (*Book, error)
	FindBooks(ctx context.Context, query string) ([]*Book, error)
	UpdateBook(ctx context.Context, b *Book, expectedVersion int) error
	DeleteBook(ctx context.Context, id uuid.UUID) error
	InsertWriter(ctx context.Context, w *Writer) error
	WriterByID(ctx context.Context, id uuid.UUID) (*Writer, error)
	FindWriters(ctx context.Context) ([]*Writer, error)
}
