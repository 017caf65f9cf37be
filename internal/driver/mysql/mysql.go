// Package mysql adapts database/sql over github.com/go-sql-driver/mysql
// to the driver.SQLConn interface. MySQL has no native FTS the way SQLite
// does, so internal/fulltext falls back to a LIKE scan against a
// normalized index column when this driver is active, and also requires
// the historical utf8/utf8mb4 replacement the store runtime applies to
// serialized item payloads (stripping U+2028/U+2029) before persisting
// them.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"nsprovider/internal/driver"
)

// conn wraps *sql.DB to satisfy driver.SQLConn.
type conn struct {
	db *sql.DB
}

// Open connects to a MySQL database and pings it to test the connection.
// dsn follows github.com/go-sql-driver/mysql's DSN format
// ("user:pass@tcp(host:port)/dbname?parseTime=true").
func Open(ctx context.Context, dsn string) (driver.SQLConn, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open database connection: %w", err)
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("mysql: ping database: %w; additionally failed to close connection: %w", pingErr, closeErr)
		}
		return nil, fmt.Errorf("mysql: ping database: %w", pingErr)
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

// Close closes the underlying connection pool.
func (c *conn) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *conn) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		SupportsNativeFTS:          false,
		SupportsCompoundKeys:       true,
		RequiresUnicodeReplacement: true,
		MaxVariablesPerStatement:   4000,
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
