package sqlstore

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/fines"
)

var (
	writerColumns = []any{"id", "first_name", "last_name", "nationality", "age", "created_at"}
	bookColumns   = []any{
		"id", "title", "author", "year", "publisher", "type", "photo",
		"writer_id", "available", "version", "created_at", "updated_at",
	}
)

func (s *Store) InsertWriter(ctx context.Context, w *catalog.Writer) error {
	return s.insert(ctx, "writers", goqu.Record{
		"id":          w.ID.String(),
		"first_name":  w.FirstName,
		"last_name":   w.LastName,
		"nationality": w.Nationality,
		"age":         w.Age,
		"created_at":  utc(w.CreatedAt),
	}, "writer")
}

func (s *Store) WriterByID(ctx context.Context, id uuid.UUID) (*catalog.Writer, error) {
	var w catalog.Writer
	if err := s.get(ctx, &w, s.from("writers").Select(writerColumns...).Where(goqu.Ex{"id": id.String()}), "writer"); err != nil {
		return nil, err
	}
	normalizeTime(&w.CreatedAt)
	return &w, nil
}

func (s *Store) FindWriters(ctx context.Context) ([]*catalog.Writer, error) {
	writers := make([]*catalog.Writer, 0)
	ds := s.from("writers").Select(writerColumns...).Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if err := s.selectAll(ctx, &writers, ds, "writer"); err != nil {
		return nil, err
	}
	for _, w := range writers {
		normalizeTime(&w.CreatedAt)
	}
	return writers, nil
}

func bookRecord(b *catalog.Book) goqu.Record {
	rec := goqu.Record{
		"title":      b.Title,
		"author":     b.Author,
		"year":       b.Year,
		"publisher":  b.Publisher,
		"type":       b.Type,
		"photo":      nil,
		"writer_id":  nil,
		"version":    b.Version,
		"updated_at": utc(b.UpdatedAt),
	}
	if b.Photo != nil {
		rec["photo"] = *b.Photo
	}
	if b.WriterID != nil {
		rec["writer_id"] = b.WriterID.String()
	}
	return rec
}

func (s *Store) InsertBook(ctx context.Context, b *catalog.Book) error {
	rec := bookRecord(b)
	rec["id"] = b.ID.String()
	rec["available"] = b.Available
	rec["created_at"] = utc(b.CreatedAt)
	return s.insert(ctx, "books", rec, "book")
}

func (s *Store) BookByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var b catalog.Book
	if err := s.get(ctx, &b, s.from("books").Select(bookColumns...).Where(goqu.Ex{"id": id.String()}), "book"); err != nil {
		return nil, err
	}
	normalizeBook(&b)
	return &b, nil
}

// FindBooks matches query case-insensitively against title and author.
func (s *Store) FindBooks(ctx context.Context, query string) ([]*catalog.Book, error) {
	ds := s.from("books").Select(bookColumns...)
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		ds = ds.Where(goqu.Or(
			goqu.Func("LOWER", goqu.C("title")).Like(pattern),
			goqu.Func("LOWER", goqu.C("author")).Like(pattern),
		))
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())

	books := make([]*catalog.Book, 0)
	if err := s.selectAll(ctx, &books, ds, "book"); err != nil {
		return nil, err
	}
	for _, b := range books {
		normalizeBook(b)
	}
	return books, nil
}

// UpdateBook writes every column except availability.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book, expectedVersion int) error {
	n, err := s.exec(ctx, s.dialect.Update("books").Prepared(true).
		Set(bookRecord(b)).
		Where(goqu.Ex{"id": b.ID.String(), "version": expectedVersion}), "book")
	if err != nil {
		return err
	}
	if n == 0 {
		return s.versionMiss(ctx, "books", b.ID, "book")
	}

	current, err := s.BookByID(ctx, b.ID)
	if err != nil {
		return err
	}
	b.Available = current.Available
	return nil
}

// SetBookAvailable flips the flag from -> to and reports whether the row changed.
func (s *Store) SetBookAvailable(ctx context.Context, id uuid.UUID, from, to bool) (bool, error) {
	n, err := s.exec(ctx, s.dialect.Update("books").Prepared(true).
		Set(goqu.Record{"available": to}).
		Where(goqu.Ex{"id": id.String(), "available": from}), "book")
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	ok, err := s.exists(ctx, "books", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, apperror.NotFound("book")
	}
	return false, nil
}

// DeleteBook removes an available book with its closed loans and their paid
// fines. A book with an unpaid fine stays.
func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		book, err := s.BookByID(ctx, id)
		if err != nil {
			return err
		}
		if !book.Available {
			return apperror.New(apperror.ErrConflict, "book is currently on loan")
		}

		loanIDs := s.from("loans").Select("id").Where(goqu.Ex{"book_id": id.String()})

		var unpaid int
		err = s.get(ctx, &unpaid, s.from("fines").Select(goqu.COUNT("*")).
			Where(goqu.C("loan_id").In(loanIDs), goqu.C("status").Eq(string(fines.StatusPending))), "fine")
		if err != nil {
			return err
		}
		if unpaid > 0 {
			return apperror.New(apperror.ErrConflict, "book has unpaid fines")
		}

		if _, err := s.exec(ctx, s.dialect.Delete("fines").Prepared(true).Where(goqu.C("loan_id").In(loanIDs)), "fine"); err != nil {
			return err
		}
		if _, err := s.exec(ctx, s.dialect.Delete("loans").Prepared(true).Where(goqu.Ex{"book_id": id.String()}), "loan"); err != nil {
			return err
		}
		n, err := s.exec(ctx, s.dialect.Delete("books").Prepared(true).Where(goqu.Ex{"id": id.String(), "available": true}), "book")
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.New(apperror.ErrConflict, "book is currently on loan")
		}
		return nil
	})
}

// versionMiss explains an update that matched no row.
func (s *Store) versionMiss(ctx context.Context, table string, id uuid.UUID, what string) error {
	ok, err := s.exists(ctx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound(what)
	}
	return apperror.New(apperror.ErrConflict, "%s was modified concurrently", what)
}

func normalizeBook(b *catalog.Book) {
	normalizeTime(&b.CreatedAt)
	normalizeTime(&b.UpdatedAt)
}
