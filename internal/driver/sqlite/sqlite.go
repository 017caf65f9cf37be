// Package sqlite adapts database/sql over github.com/mattn/go-sqlite3 to
// the driver.SQLConn interface. SQLite is the reference SQL backend: it
// supports FTS5 natively, so internal/fulltext prefers it whenever it is
// the active driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"nsprovider/internal/driver"
)

// conn wraps *sql.DB to satisfy driver.SQLConn.
type conn struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database file at path. An
// empty path opens an in-memory database, used by the test suite.
func Open(ctx context.Context, path string) (driver.SQLConn, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("sqlite: ping %q: %w; additionally failed to close: %v", path, pingErr, closeErr)
		}
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, pingErr)
	}

	// SQLite serializes writers at the file level; capping the pool to a
	// single connection avoids SQLITE_BUSY churn under concurrent access,
	// relying instead on internal/txlock's admission queue upstream.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	return &conn{db: db}, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args ...any) (driver.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *conn) QueryContext(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *conn) QueryRowContext(ctx context.Context, query string, args ...any) driver.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *conn) BeginTx(ctx context.Context) (driver.SQLTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (c *conn) Close() error { return c.db.Close() }

func (c *conn) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		SupportsNativeFTS:        true,
		SupportsCompoundKeys:     true,
		MaxVariablesPerStatement: 999,
	}
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (driver.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) QueryContext(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) driver.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }
