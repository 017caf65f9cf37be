// Package backendtest provides the shared fixtures internal/store's
// cross-backend scenario tests run against: one nsprovider.Provider
// opener per storage engine (SQLite, bbolt, MySQL via testcontainers),
// so a single scenario test body exercises all three without knowing
// which one it's talking to.
package backendtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"nsprovider"
	"nsprovider/internal/schema"
)

// Fixture names one storage engine a scenario test should run against.
type Fixture struct {
	Name    string
	Backend nsprovider.Backend
	// Path returns a fresh, isolated file path (SQLite/bbolt) or DSN
	// (MySQL) for this backend, torn down automatically at the end of t.
	Path func(t *testing.T) string
}

// All returns every backend fixture scenario tests should run against.
// MySQL is skipped in short mode: it requires a Docker-backed
// testcontainers instance, the same tradeoff the teacher's own
// applier integration test makes.
func All(t *testing.T) []Fixture {
	fixtures := []Fixture{
		{Name: "sqlite", Backend: nsprovider.BackendSQLite, Path: sqlitePath},
		{Name: "bolt", Backend: nsprovider.BackendBolt, Path: boltPath},
	}
	if testing.Short() {
		return fixtures
	}
	return append(fixtures, Fixture{Name: "mysql", Backend: nsprovider.BackendMySQL, Path: mysqlDSN})
}

func sqlitePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nsp.sqlite3")
}

func boltPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nsp.bolt")
}

func mysqlDSN(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("nsprovider_test"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "mysql connection string")

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err, "open direct verification connection")
	require.NoError(t, db.PingContext(ctx), "ping mysql")
	require.NoError(t, db.Close())

	return dsn
}

// Open opens a fresh Provider for f against sch at a newly allocated
// path/DSN, failing t on error, and schedules its Close.
func Open(t *testing.T, f Fixture, sch schema.Schema, wipeIfExists bool) *nsprovider.Provider {
	t.Helper()
	return OpenAt(t, f, f.Path(t), sch, wipeIfExists)
}

// OpenAt opens a Provider for f against sch at a caller-supplied
// path/DSN, letting a scenario reopen the exact same underlying database
// (migration idempotence, downgrade handling). The returned Provider's
// Close is scheduled on t.Cleanup; the caller is still free to Close it
// early to reopen at the same path within one test.
func OpenAt(t *testing.T, f Fixture, path string, sch schema.Schema, wipeIfExists bool) *nsprovider.Provider {
	t.Helper()
	p, err := nsprovider.Open(context.Background(), nsprovider.Config{
		Backend:      f.Backend,
		Path:         path,
		Schema:       sch,
		WipeIfExists: wipeIfExists,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}
