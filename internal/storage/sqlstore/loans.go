package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/circulation"
)

var loanColumns = []any{
	"id", "user_id", "book_id", "loan_date", "due_date", "return_date",
	"status", "version", "created_at", "updated_at",
}

func (s *Store) InsertLoan(ctx context.Context, l *circulation.Loan) error {
	return s.insert(ctx, "loans", goqu.Record{
		"id":          l.ID.String(),
		"user_id":     l.UserID.String(),
		"book_id":     l.BookID.String(),
		"loan_date":   utc(l.LoanDate),
		"due_date":    utc(l.DueDate),
		"return_date": nullTime(l.ReturnDate),
		"status":      string(l.Status),
		"version":     l.Version,
		"created_at":  utc(l.CreatedAt),
		"updated_at":  utc(l.UpdatedAt),
	}, "loan")
}

func (s *Store) LoanByID(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	var l circulation.Loan
	if err := s.get(ctx, &l, s.from("loans").Select(loanColumns...).Where(goqu.Ex{"id": id.String()}), "loan"); err != nil {
		return nil, err
	}
	normalizeLoan(&l)
	return &l, nil
}

func (s *Store) FindLoans(ctx context.Context, f circulation.Filter) ([]*circulation.Loan, error) {
	var where []exp.Expression
	if f.UserID != nil {
		where = append(where, goqu.C("user_id").Eq(f.UserID.String()))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, goqu.C("status").In(statuses))
	}
	if f.DueBefore != nil {
		where = append(where, goqu.C("due_date").Lt(utc(*f.DueBefore)))
	}
	if f.OpenOnly {
		where = append(where, goqu.C("return_date").IsNull())
	}

	ds := s.from("loans").Select(loanColumns...).
		Where(where...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())

	loans := make([]*circulation.Loan, 0)
	if err := s.selectAll(ctx, &loans, ds, "loan"); err != nil {
		return nil, err
	}
	for _, l := range loans {
		normalizeLoan(l)
	}
	return loans, nil
}

func (s *Store) UpdateLoan(ctx context.Context, l *circulation.Loan, expectedVersion int) error {
	n, err := s.exec(ctx, s.dialect.Update("loans").Prepared(true).
		Set(goqu.Record{
			"due_date":    utc(l.DueDate),
			"return_date": nullTime(l.ReturnDate),
			"status":      string(l.Status),
			"version":     l.Version,
			"updated_at":  utc(l.UpdatedAt),
		}).
		Where(goqu.Ex{"id": l.ID.String(), "version": expectedVersion}), "loan")
	if err != nil {
		return err
	}
	if n == 0 {
		return s.versionMiss(ctx, "loans", l.ID, "loan")
	}
	return nil
}

func normalizeLoan(l *circulation.Loan) {
	normalizeTime(&l.LoanDate)
	normalizeTime(&l.DueDate)
	normalizeTime(l.ReturnDate)
	normalizeTime(&l.CreatedAt)
	normalizeTime(&l.UpdatedAt)
}
