// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
)

// Book is a title held by the library. Available is owned by the loan
// lifecycle; catalog updates never change it.
type Book struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Author    string     `json:"author" db:"author"`
	Year      int        `json:"year" db:"year"`
	Publisher string     `json:"publisher" db:"publisher"`
	Type      string     `json:"type" db:"type"`
	Photo     *string    `json:"photo,omitempty" db:"photo"`
	WriterID  *uuid.UUID `json:"writerId,omitempty" db:"writer_id"`
	Available bool       `json:"available" db:"available"`
	Version   int        `json:"version" db:"version"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// Writer is an author record that books may reference.
type Writer struct {
	ID          uuid.UUID `json:"id" db:"id"`
	FirstName   string    `json:"firstName" db:"first_name"`
	LastName    string    `json:"lastName" db:"last_name"`
	Nationality string    `json:"nationality" db:"nationality"`
	Age         int       `json:"age" db:"age"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`

	Books []*Book `json:"books" db:"-"`
}

// BookInput carries the client-writable fields of a book.
type BookInput struct {
	Title     string     `json:"title" validate:"required"`
	Author    string     `json:"author" validate:"required"`
	Year      int        `json:"year" validate:"gte=0"`
	Publisher string     `json:"publisher"`
	Type      string     `json:"type"`
	Photo     *string    `json:"photo"`
	WriterID  *uuid.UUID `json:"writerId"`
}

// BookPatch carries a partial book update. Nil fields keep their stored value.
type BookPatch struct {
	Title     *string    `json:"title"`
	Author    *string    `json:"author"`
	Year      *int       `json:"year" validate:"omitnil,gte=0"`
	Publisher *string    `json:"publisher"`
	Type      *string    `json:"type"`
	Photo     *string    `json:"photo"`
	WriterID  *uuid.UUID `json:"writerId"`
}

// WriterInput carries the fields of a new writer.
type WriterInput struct {
	FirstName   string `json:"firstName" validate:"required"`
	LastName    string `json:"lastName" validate:"required"`
	Nationality string `json:"nationality"`
	Age         int    `json:"age" validate:"gte=0"`
}

func (in BookInput) applyTo(b *Book) {
	b.Title = in.Title
	b.Author = in.Author
	b.Year = in.Year
	b.Publisher = in.Publisher
	b.Type = in.Type
	b.Photo = in.Photo
	b.WriterID = in.WriterID
}

func (p BookPatch) check() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return apperror.New(apperror.ErrValidation, "title must not be empty")
	}
	if p.Author != nil && strings.TrimSpace(*p.Author) == "" {
		return apperror.New(apperror.ErrValidation, "author must not be empty")
	}
	return nil
}

func (p BookPatch) applyTo(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Year != nil {
		b.Year = *p.Year
	}
	if p.Publisher != nil {
		b.Publisher = *p.Publisher
	}
	if p.Type != nil {
		b.Type = *p.Type
	}
	if p.Photo != nil {
		b.Photo = p.Photo
	}
	if p.WriterID != nil {
		b.WriterID = p.WriterID
	}
}
