// internal/catalog/implementation.go
package catalog

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

	"github.com/jules-labs/librarydesk/internal/apperror"
)

var tracer = otel.Tracer("librarydesk/catalog")

// service implements the Service interface.
type service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(store Store, logger *slog.Logger) Service {
	return &service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// AddBook creates a new, available book.
func (s *service) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	ctx, span := tracer.Start(ctx, "catalog.add_book")
	defer span.End()

	now := s.now().UTC().Truncate(time.Microsecond)
	book := &Book{
		ID:        uuid.New(),
		Available: true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.applyTo(book)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkWriter(ctx, book.WriterID); err != nil {
			return err
		}
		return s.store.InsertBook(ctx, book)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add book: %w", err)
	}

	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	s.logger.InfoContext(ctx, "book added", "book_id", book.ID, "title", book.Title)
	return book, nil
}

func (s *service) checkWriter(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := s.store.WriterByID(ctx, *id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("writer")
		}
		return err
	}
	return nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.store.BookByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("book")
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// UpdateBook changes the descriptive fields present in the patch.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, in BookPatch) (*Book, error) {
	ctx, span := tracer.Start(ctx, "catalog.update_book", trace.WithAttributes(
		attribute.String("book.id", id.String()),
	))
	defer span.End()

	if err := in.check(); err != nil {
		return nil, err
	}

	var book *Book
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		book, err = s.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkWriter(ctx, in.WriterID); err != nil {
			return err
		}

		expected := book.Version
		in.applyTo(book)
		book.Version++
		book.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		return s.store.UpdateBook(ctx, book, expected)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return book, nil
}

// RemoveBook deletes a book that is neither on loan nor behind an unpaid fine.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "catalog.remove_book", trace.WithAttributes(
		attribute.String("book.id", id.String()),
	))
	defer span.End()

	if err := s.store.DeleteBook(ctx, id); err != nil {
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			return apperror.NotFound("book")
		case errors.Is(err, apperror.ErrConflict):
			return err
		}
		return fmt.Errorf("failed to remove book: %w", err)
	}

	s.logger.InfoContext(ctx, "book removed", "book_id", id)
	return nil
}

// Search finds books whose title or author contains query. An empty query lists everything.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	books, err := s.store.FindBooks(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("book search failed: %w", err)
	}
	return books, nil
}

// AddWriter creates a writer.
func (s *service) AddWriter(ctx context.Context, in WriterInput) (*Writer, error) {
	writer := &Writer{
		ID:          uuid.New(),
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Nationality: in.Nationality,
		Age:         in.Age,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
		Books:       []*Book{},
	}
	if err := s.store.InsertWriter(ctx, writer); err != nil {
		return nil, fmt.Errorf("failed to add writer: %w", err)
	}
	return writer, nil
}

// ListWriters returns every writer with the books that reference them.
func (s *service) ListWriters(ctx context.Context) ([]*Writer, error) {
	writers, err := s.store.FindWriters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list writers: %w", err)
	}
	books, err := s.store.FindBooks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list writer books: %w", err)
	}

	byWriter := make(map[uuid.UUID][]*Book)
	for _, b := range books {
		if b.WriterID != nil {
			byWriter[*b.WriterID] = append(byWriter[*b.WriterID], b)
		}
	}
	for _, w := range writers {
		w.Books = byWriter[w.ID]
		if w.Books == nil {
			w.Books = []*Book{}
		}
	}
	return writers, nil
}
