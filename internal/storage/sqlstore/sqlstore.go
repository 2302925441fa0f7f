// Package sqlstore persists the library in PostgreSQL (lib/pq or pgx) or
// SQLite (modernc) through sqlx, with queries built by goqu.
package sqlstore

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/circulation"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"
)

var (
	//go:embed schema_postgres.sql
	postgresSchema string
	//go:embed schema_sqlite.sql
	sqliteSchema string
)

var (
	_ membership.Store  = (*Store)(nil)
	_ catalog.Store     = (*Store)(nil)
	_ circulation.Store = (*Store)(nil)
	_ fines.Store       = (*Store)(nil)
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is a SQL-backed implementation of every service store.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	schema  string
}

type txKey struct{}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	s := &Store{}
	switch driver {
	case DriverPostgres, DriverPGX:
		s.dialect = goqu.Dialect("postgres")
		s.schema = postgresSchema
	case DriverSQLite:
		s.dialect = goqu.Dialect("sqlite3")
		s.schema = sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; an in-memory database also lives on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s.db = db
	return s, nil
}

// sqliteDSN enables foreign keys and a sortable timestamp format unless the
// caller already chose them.
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn in a transaction carried by the context. Nested calls join
// the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err, "record"))
	}
	return nil
}

// q returns the transaction in ctx, or the pool.
func (s *Store) q(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) from(table any) *goqu.SelectDataset {
	return s.dialect.From(table).Prepared(true)
}

func (s *Store) get(ctx context.Context, dest any, ds *goqu.SelectDataset, what string) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	if err := sqlx.GetContext(ctx, s.q(ctx), dest, query, args...); err != nil {
		return mapError(err, what)
	}
	return nil
}

func (s *Store) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset, what string) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	if err := sqlx.SelectContext(ctx, s.q(ctx), dest, query, args...); err != nil {
		return mapError(err, what)
	}
	return nil
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (s *Store) exec(ctx context.Context, b sqlBuilder, what string) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build %s statement: %w", what, err)
	}
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}

func (s *Store) insert(ctx context.Context, table string, rec goqu.Record, what string) error {
	_, err := s.exec(ctx, s.dialect.Insert(table).Prepared(true).Rows(rec), what)
	return err
}

// exists reports whether a row with id exists in table.
func (s *Store) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
	var n int
	err := s.get(ctx, &n, s.from(table).Select(goqu.COUNT("*")).Where(goqu.Ex{"id": id.String()}), table)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// uuidStrings renders ids as text so both engines compare them the same way.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return utc(*t)
}

// normalizeTime makes scanned timestamps comparable with ones built in Go.
func normalizeTime(t *time.Time) {
	if t != nil && !t.IsZero() {
		*t = utc(*t)
	}
}
