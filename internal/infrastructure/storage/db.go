package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts postgres or sqlite; empty means sqlite.
func ParseDialect(value string) (Dialect, error) {
	switch value {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", value)
	}
}

// DB is a database handle plus the query builder for its dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// Open connects and configures the pool for the dialect.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	d := Wrap(db, dialect)
	if err := d.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Wrap adopts an existing handle.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == Postgres {
		placeholder = sq.Dollar
	}
	return &DB{db: db, dialect: dialect, sb: sq.StatementBuilder.PlaceholderFormat(placeholder)}
}

func (d *DB) configure(ctx context.Context) error {
	if d.dialect == Postgres {
		d.db.SetMaxOpenConns(20)
		d.db.SetMaxIdleConns(5)
		d.db.SetConnMaxLifetime(30 * time.Minute)
		if err := d.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		return nil
	}

	// One connection serializes writers, so a transaction is the lock scope.
	d.db.SetMaxOpenConns(1)
	d.db.SetMaxIdleConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := d.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

// Dialect returns the configured dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Close releases the pool.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// forUpdate adds row locks on dialects that have them.
func (d *DB) forUpdate(b sq.SelectBuilder) sq.SelectBuilder {
	if d.dialect == Postgres {
		return b.Suffix("FOR UPDATE")
	}
	return b
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func exec(ctx context.Context, q queryer, b sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func queryRow(ctx context.Context, q queryer, b sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

// queryAll runs b and scans every row with scan, closing the rows before returning.
func queryAll(ctx context.Context, q queryer, b sqlizer, scan func(*sql.Rows) error) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		if err := scan(rows); err != nil {
			_ = rows.Close()
			return err
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return fmt.Errorf("close rows: %w", closeErr)
	}
	return nil
}

// insertID runs an INSERT ... RETURNING id.
func insertID(ctx context.Context, q queryer, b sq.InsertBuilder) (int64, error) {
	row, err := queryRow(ctx, q, b.Suffix("RETURNING id"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullID[T ~int64](id T) any {
	if id == 0 {
		return nil
	}
	return int64(id)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}
