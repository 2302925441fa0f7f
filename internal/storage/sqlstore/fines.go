package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/fines"
)

var fineColumns = []any{
	goqu.I("f.id"), goqu.I("f.loan_id"), goqu.I("f.amount"), goqu.I("f.created_at"),
	goqu.I("f.paid_at"), goqu.I("f.status"), goqu.I("f.version"),
}

func (s *Store) finesFrom() *goqu.SelectDataset {
	return s.from(goqu.T("fines").As("f")).Select(fineColumns...)
}

func (s *Store) InsertFine(ctx context.Context, f *fines.Fine) error {
	return s.insert(ctx, "fines", goqu.Record{
		"id":         f.ID.String(),
		"loan_id":    f.LoanID.String(),
		"amount":     f.Amount,
		"created_at": utc(f.CreatedAt),
		"paid_at":    nullTime(f.PaidAt),
		"status":     string(f.Status),
		"version":    f.Version,
	}, "fine")
}

func (s *Store) FineByID(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	return s.fine(ctx, goqu.Ex{"f.id": id.String()})
}

func (s *Store) FineByLoanID(ctx context.Context, loanID uuid.UUID) (*fines.Fine, error) {
	return s.fine(ctx, goqu.Ex{"f.loan_id": loanID.String()})
}

func (s *Store) fine(ctx context.Context, where goqu.Ex) (*fines.Fine, error) {
	var f fines.Fine
	if err := s.get(ctx, &f, s.finesFrom().Where(where), "fine"); err != nil {
		return nil, err
	}
	normalizeFine(&f)
	return &f, nil
}

func (s *Store) FindFines(ctx context.Context, filter fines.Filter) ([]*fines.Fine, error) {
	ds := s.finesFrom()
	if filter.UserID != nil {
		ds = ds.Join(goqu.T("loans").As("l"), goqu.On(goqu.Ex{"l.id": goqu.I("f.loan_id")})).
			Where(goqu.Ex{"l.user_id": filter.UserID.String()})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"f.status": string(filter.Status)})
	}
	ds = ds.Order(goqu.I("f.created_at").Asc(), goqu.I("f.id").Asc())

	out := make([]*fines.Fine, 0)
	if err := s.selectAll(ctx, &out, ds, "fine"); err != nil {
		return nil, err
	}
	for _, f := range out {
		normalizeFine(f)
	}
	return out, nil
}

func (s *Store) UpdateFine(ctx context.Context, f *fines.Fine, expectedVersion int) error {
	n, err := s.exec(ctx, s.dialect.Update("fines").Prepared(true).
		Set(goqu.Record{
			"paid_at": nullTime(f.PaidAt),
			"status":  string(f.Status),
			"version": f.Version,
		}).
		Where(goqu.Ex{"id": f.ID.String(), "version": expectedVersion}), "fine")
	if err != nil {
		return err
	}
	if n == 0 {
		return s.versionMiss(ctx, "fines", f.ID, "fine")
	}
	return nil
}

// LoanSummaries loads the loan, book title and borrower name behind each fine.
func (s *Store) LoanSummaries(ctx context.Context, loanIDs []uuid.UUID) (map[uuid.UUID]*fines.LoanSummary, error) {
	out := make(map[uuid.UUID]*fines.LoanSummary, len(loanIDs))
	if len(loanIDs) == 0 {
		return out, nil
	}

	ds := s.from(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.Ex{"b.id": goqu.I("l.book_id")})).
		Join(goqu.T("users").As("u"), goqu.On(goqu.Ex{"u.id": goqu.I("l.user_id")})).
		Select(
			goqu.I("l.id"),
			goqu.I("l.user_id"),
			goqu.I("b.title").As("book_title"),
			goqu.L("u.first_name || ' ' || u.last_name").As("user_name"),
			goqu.I("l.loan_date"),
			goqu.I("l.due_date"),
			goqu.I("l.return_date"),
		).
		Where(goqu.I("l.id").In(uuidStrings(loanIDs)))

	var rows []*fines.LoanSummary
	if err := s.selectAll(ctx, &rows, ds, "loan"); err != nil {
		return nil, err
	}
	for _, r := range rows {
		normalizeTime(&r.LoanDate)
		normalizeTime(&r.DueDate)
		normalizeTime(r.ReturnDate)
		out[r.ID] = r
	}
	return out, nil
}

func normalizeFine(f *fines.Fine) {
	normalizeTime(&f.CreatedAt)
	normalizeTime(f.PaidAt)
}
