// Package sqlmig specializes the shared migration algorithm
// (internal/migrate) for the two SQL backends. It generates canonical DDL
// from a declared schema.StoreSchema, introspects what is actually
// persisted, and normalizes both sides through the TiDB SQL parser so
// drift detection is a plain string comparison rather than a
// column-by-column diff.
package sqlmig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nsprovider/internal/driver"
)

// Dialect isolates the handful of places SQLite and MySQL disagree:
// identifier quoting, CREATE TABLE suffixes, and how to ask the server
// what it actually persisted.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	CreateTableSuffix() string
	// IndexKeyLength is the prefix length an index on a TEXT column must
	// declare, or 0 if the dialect indexes TEXT columns directly.
	// InnoDB refuses to index a TEXT/BLOB column without one.
	IndexKeyLength() int
	ListBaseTables(ctx context.Context, exec driver.SQLExecutor) ([]string, error)
	ShowCreateTable(ctx context.Context, exec driver.SQLExecutor, tableName string) (string, bool, error)
	// TransactionalDDL reports whether this dialect's DDL statements
	// participate in the enclosing transaction's rollback. MySQL's
	// implicit-commit behavior on DDL means the answer is false there.
	TransactionalDDL() bool
}

// sqliteDialect targets github.com/mattn/go-sqlite3.
type sqliteDialect struct{}

// NewSQLite returns the Dialect used by the SQLite driver.
func NewSQLite() Dialect { return sqliteDialect{} }

func (sqliteDialect) Name() string                { return "sqlite" }
func (sqliteDialect) QuoteIdent(name string) string { return `"` + name + `"` }
func (sqliteDialect) CreateTableSuffix() string     { return "" }
func (sqliteDialect) TransactionalDDL() bool        { return true }
func (sqliteDialect) IndexKeyLength() int           { return 0 }

func (d sqliteDialect) ListBaseTables(ctx context.Context, exec driver.SQLExecutor) ([]string, error) {
	rows, err := exec.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d sqliteDialect) ShowCreateTable(ctx context.Context, exec driver.SQLExecutor, tableName string) (string, bool, error) {
	row := exec.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName)
	var sql string
	if err := row.Scan(&sql); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return sql, true, nil
}

// mysqlDialect targets github.com/go-sql-driver/mysql.
type mysqlDialect struct{}

// NewMySQL returns the Dialect used by the MySQL driver.
func NewMySQL() Dialect { return mysqlDialect{} }

func (mysqlDialect) Name() string                { return "mysql" }
func (mysqlDialect) QuoteIdent(name string) string { return "`" + name + "`" }
func (mysqlDialect) CreateTableSuffix() string {
	return " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// DDL in MySQL causes an implicit commit, so it cannot be rolled back as
// part of a surrounding transaction; RequireWipeFallbackHint uses this to
// append a hint to re-open with WipeIfExists to a failed migration's
// error.
func (mysqlDialect) TransactionalDDL() bool { return false }

func (mysqlDialect) IndexKeyLength() int { return 255 }

func (d mysqlDialect) ListBaseTables(ctx context.Context, exec driver.SQLExecutor) ([]string, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d mysqlDialect) ShowCreateTable(ctx context.Context, exec driver.SQLExecutor, tableName string) (string, bool, error) {
	row := exec.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE %s", d.QuoteIdent(tableName)))
	var name, createSQL string
	if err := row.Scan(&name, &createSQL); err != nil {
		if isNoRows(err) || isTableNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return createSQL, true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isTableNotFound matches the two "doesn't exist" messages the mysql and
// sqlite3 drivers surface; a table can legitimately vanish between
// ListBaseTables and ShowCreateTable under concurrent schema changes.
func isTableNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "no such table")
}
