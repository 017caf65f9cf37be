// Package driver defines the two shapes a backend can expose: a SQL
// executor for SQLite/MySQL, or a cursor-oriented bucket store for bbolt.
// The store runtime (internal/store) and migration engine
// (internal/migrate) run every statement and bucket operation through
// these interfaces. go.etcd.io/bbolt is imported only by the boltdb
// driver; above this package, database/sql is imported only for its
// sql.ErrNoRows sentinel and by the test harness.
package driver

import "context"

// Capabilities describes what a concrete driver supports, so shared code
// in internal/store and internal/migrate can adapt instead of special
// casing driver names.
type Capabilities struct {
	// SupportsNativeFTS is true for SQLite (FTS5 virtual tables). MySQL
	// and bbolt fall back to LIKE scans / range scans respectively.
	SupportsNativeFTS bool

	// SupportsCompoundKeys is true when the driver can index a
	// multi-column tuple directly. Every driver in this module actually
	// supports this (compound keys are emulated as a single serialized
	// string column everywhere), but the flag is kept so a future driver
	// that does support native composite keys can be detected and opted
	// into a leaner layout.
	SupportsCompoundKeys bool

	// RequiresUnicodeReplacement is true for MySQL's historical utf8
	// charset limitations; when set, the store runtime strips U+2028 and
	// U+2029 from each item's serialized JSON payload before writing it.
	RequiresUnicodeReplacement bool

	// MaxVariablesPerStatement bounds how many placeholders a single
	// prepared statement may carry, used by the SQL backend to chunk the
	// base-row upserts of Put and the IN (...) lookups of GetItems (Remove
	// issues one statement per key). Zero means unbounded; bbolt, which
	// has no statement placeholders, reports math.MaxInt.
	MaxVariablesPerStatement int
}

// Row is the minimal cursor over a single result row, satisfied by
// *sql.Row and *sql.Rows alike.
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a SQL result set.
type Rows interface {
	Row
	Next() bool
	Close() error
	Err() error
}

// SQLExecutor is the subset of *sql.DB / *sql.Tx that the SQL-backed store
// and migration engine need. Both SQLite and MySQL drivers satisfy it
// directly via database/sql; tests substitute a fake.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) Row
}

// Result mirrors sql.Result.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// SQLConn is a SQLExecutor that can also start a transaction and be
// closed; it is what a driver's Open returns.
type SQLConn interface {
	SQLExecutor
	BeginTx(ctx context.Context) (SQLTx, error)
	Close() error
	Capabilities() Capabilities
}

// SQLTx is an in-flight SQL transaction.
type SQLTx interface {
	SQLExecutor
	Commit() error
	Rollback() error
}

// CursorStore is the bbolt-backed analog of SQLConn: an open database
// file plus the ability to start a transaction over its buckets.
type CursorStore interface {
	BeginTx(ctx context.Context, writable bool) (BucketTx, error)
	Close() error
	Capabilities() Capabilities
}

// BucketTx is an in-flight bbolt transaction.
type BucketTx interface {
	Bucket(name string) (Bucket, error)
	CreateBucketIfNotExists(name string) (Bucket, error)
	DeleteBucket(name string) error
	ForEachBucketName(fn func(name string) error) error
	Commit() error
	Rollback() error
}

// Bucket is a single named key/value namespace within a transaction.
type Bucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() Cursor
}

// Cursor iterates a Bucket's keys in byte order, the primitive every
// range scan (key ranges, multi-entry index buckets, FTS range-scan
// fallback) is built from.
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	Seek(prefix []byte) (key, value []byte)
}
