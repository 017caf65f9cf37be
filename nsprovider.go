// Package nsprovider is a backend-agnostic, IndexedDB-shaped object store
// over SQLite, MySQL, and bbolt. Open declares a schema.Schema once;
// every subsequent BeginTx borrows the same connection under
// internal/txlock's admission queue and hands back a *Transaction whose
// Store(name) returns the internal/store runtime bound to whichever
// backend is active.
package nsprovider

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"nsprovider/internal/driver"
	"nsprovider/internal/driver/boltdb"
	"nsprovider/internal/driver/mysql"
	"nsprovider/internal/driver/sqlite"
	"nsprovider/internal/migrate"
	"nsprovider/internal/migrate/boltmig"
	"nsprovider/internal/migrate/sqlmig"
	"nsprovider/internal/obslog"
	"nsprovider/internal/schema"
	"nsprovider/internal/store"
	"nsprovider/internal/store/boltstore"
	"nsprovider/internal/store/sqlstore"
	"nsprovider/internal/storeerr"
	"nsprovider/internal/txlock"
)

// Backend selects which storage engine a Provider opens against.
type Backend int

const (
	BackendSQLite Backend = iota
	BackendMySQL
	BackendBolt
)

func (b Backend) String() string {
	switch b {
	case BackendSQLite:
		return "sqlite"
	case BackendMySQL:
		return "mysql"
	case BackendBolt:
		return "bolt"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Config declares how to open a Provider.
type Config struct {
	Backend Backend
	// Path is a file path for BackendSQLite/BackendBolt, or a
	// github.com/go-sql-driver/mysql DSN for BackendMySQL.
	Path string
	// Schema is the caller's declared shape, reconciled against whatever
	// is physically persisted every time Open runs.
	Schema schema.Schema
	// WipeIfExists forces every store to be dropped and recreated
	// regardless of drift, and is also the only way Open proceeds when
	// the persisted schema version is newer than Schema.Version.
	WipeIfExists bool
	// Verbose raises the Provider's logger to debug level.
	Verbose bool
	// OnError, if set, observes every error Open/BeginTx/Commit/Rollback
	// is about to return. Purely additive: it cannot change or swallow
	// the returned error.
	OnError ErrorObserver
}

// Provider owns the single underlying connection (*sql.DB equivalent for
// SQLite/MySQL, *bbolt.DB for bbolt) and the admission queue every
// Transaction is serialized through.
type Provider struct {
	cfg    Config
	log    zerolog.Logger
	caps   driver.Capabilities
	txMgr  *txlock.Manager
	closed bool

	sqlConn     driver.SQLConn
	sqlDialect  sqlmig.Dialect
	cursorStore driver.CursorStore
}

// Open connects to cfg.Backend at cfg.Path, then reconciles cfg.Schema
// against whatever is physically persisted before returning. A failed
// migration never touches persisted data beyond what the backend's own
// DDL+DML transactionality already committed (see
// internal/migrate/sqlmig/txsafety.go for the one case — MySQL DDL — where
// that can leave a partial migration behind).
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	level := obslog.InfoLevel
	if cfg.Verbose {
		level = obslog.DebugLevel
	}
	p := &Provider{
		cfg:   cfg,
		log:   obslog.New(cfg.Path, obslog.Config{Level: level}),
		txMgr: txlock.NewManager(),
	}

	switch cfg.Backend {
	case BackendSQLite:
		conn, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, p.notify(fmt.Errorf("%w: %s", storeerr.ErrBackendUnavailable, err))
		}
		p.sqlConn = conn
		p.sqlDialect = sqlmig.NewSQLite()
		p.caps = conn.Capabilities()
	case BackendMySQL:
		conn, err := mysql.Open(ctx, cfg.Path)
		if err != nil {
			return nil, p.notify(fmt.Errorf("%w: %s", storeerr.ErrBackendUnavailable, err))
		}
		p.sqlConn = conn
		p.sqlDialect = sqlmig.NewMySQL()
		p.caps = conn.Capabilities()
	case BackendBolt:
		cs, err := boltdb.Open(cfg.Path)
		if err != nil {
			return nil, p.notify(fmt.Errorf("%w: %s", storeerr.ErrBackendUnavailable, err))
		}
		p.cursorStore = cs
		p.caps = cs.Capabilities()
	default:
		return nil, p.notify(fmt.Errorf("%w: unknown backend %v", storeerr.ErrInvalidArgument, cfg.Backend))
	}

	if err := cfg.Schema.Validate(); err != nil {
		_ = p.closeConn()
		return nil, p.notify(err)
	}

	if err := p.migrate(ctx); err != nil {
		_ = p.closeConn()
		return nil, p.notify(err)
	}

	p.log.Info().Str("backend", cfg.Backend.String()).Int("schemaVersion", cfg.Schema.Version).Msg("provider opened")
	return p, nil
}

// migrate runs the schema reconciliation algorithm once, in its own
// transaction, committing on success and rolling back on any failure.
func (p *Provider) migrate(ctx context.Context) error {
	if p.sqlConn != nil {
		return p.migrateSQL(ctx)
	}
	return p.migrateBolt(ctx)
}

func (p *Provider) migrateSQL(ctx context.Context) error {
	tx, err := p.sqlConn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin migration transaction: %s", storeerr.ErrBackendError, err)
	}

	migBackend := &sqlmig.Backend{Exec: tx, Dialect: p.sqlDialect, Caps: p.caps}
	if err := migBackend.EnsureMetadataTable(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: ensure metadata table: %s", storeerr.ErrBackendError, err)
	}

	reinsert := func(ctx context.Context, storeName string, items []map[string]any) error {
		st, ok := p.cfg.Schema.FindStore(storeName)
		if !ok {
			return nil
		}
		s := store.New(st, &sqlstore.Backend{Exec: tx, Dialect: p.sqlDialect, Caps: p.caps})
		return s.Put(ctx, items...)
	}

	if err := migrate.Run(ctx, p.cfg.Schema, migBackend, p.cfg.WipeIfExists, reinsert); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w%s", err, sqlmig.RequireWipeFallbackHint(p.sqlDialect))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit migration: %s", storeerr.ErrBackendError, err)
	}
	return nil
}

func (p *Provider) migrateBolt(ctx context.Context) error {
	tx, err := p.cursorStore.BeginTx(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: begin migration transaction: %s", storeerr.ErrBackendError, err)
	}

	migBackend := &boltmig.Backend{Tx: tx, Caps: p.caps}

	reinsert := func(ctx context.Context, storeName string, items []map[string]any) error {
		st, ok := p.cfg.Schema.FindStore(storeName)
		if !ok {
			return nil
		}
		s := store.New(st, &boltstore.Backend{Tx: tx, Caps: p.caps})
		return s.Put(ctx, items...)
	}

	if err := migrate.Run(ctx, p.cfg.Schema, migBackend, p.cfg.WipeIfExists, reinsert); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit migration: %s", storeerr.ErrBackendError, err)
	}
	return nil
}

// BeginTx opens a transaction scoped to stores, queued through txlock's
// admission manager and blocking until it is granted, ctx is canceled, or
// the Provider is closing.
func (p *Provider) BeginTx(ctx context.Context, stores []string, write bool) (*Transaction, error) {
	if p.closed {
		return nil, p.notify(storeerr.ErrDatabaseClosed)
	}

	mode := txlock.ReadOnly
	if write {
		mode = txlock.ReadWrite
	}
	ticket, err := p.txMgr.Open(ctx, stores, mode)
	if err != nil {
		return nil, p.notify(err)
	}

	t := &Transaction{provider: p, ticket: ticket}

	if p.sqlConn != nil {
		sqlTx, err := p.sqlConn.BeginTx(ctx)
		if err != nil {
			ticket.Fail()
			return nil, p.notify(fmt.Errorf("%w: begin transaction: %s", storeerr.ErrBackendError, err))
		}
		t.sqlTx = sqlTx
		return t, nil
	}

	bucketTx, err := p.cursorStore.BeginTx(ctx, write)
	if err != nil {
		ticket.Fail()
		return nil, p.notify(fmt.Errorf("%w: begin transaction: %s", storeerr.ErrBackendError, err))
	}
	t.bucketTx = bucketTx
	return t, nil
}

// Close drains every open/waiting transaction, then closes the
// underlying connection. Any BeginTx already in flight when Close is
// called is allowed to finish; any call made after returns
// ErrDatabaseClosing until draining completes, ErrDatabaseClosed after.
func (p *Provider) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	draining := p.txMgr.CloseWhenPossible()
	select {
	case <-draining:
	case <-ctx.Done():
		return p.notify(ctx.Err())
	}

	p.closed = true
	if err := p.closeConn(); err != nil {
		return p.notify(fmt.Errorf("%w: %s", storeerr.ErrBackendError, err))
	}
	p.log.Info().Msg("provider closed")
	return nil
}

func (p *Provider) closeConn() error {
	if p.sqlConn != nil {
		return p.sqlConn.Close()
	}
	if p.cursorStore != nil {
		return p.cursorStore.Close()
	}
	return nil
}

// DeleteDatabase closes the Provider (if not already closed) and removes
// its persisted data: the file on disk for SQLite/bbolt, or, for MySQL,
// which has no single file to remove, every store table with its side and
// FTS tables. On MySQL the metadata table (schema version and index
// metadata rows) is not dropped.
func (p *Provider) DeleteDatabase(ctx context.Context) error {
	if !p.closed && p.cfg.Backend == BackendMySQL {
		if err := p.dropAllMySQLTables(ctx); err != nil {
			return p.notify(err)
		}
	}

	if !p.closed {
		if err := p.Close(ctx); err != nil {
			return err
		}
	}

	if p.cfg.Backend == BackendMySQL {
		return nil
	}
	if err := os.Remove(p.cfg.Path); err != nil && !os.IsNotExist(err) {
		return p.notify(fmt.Errorf("%w: remove %q: %s", storeerr.ErrBackendError, p.cfg.Path, err))
	}
	return nil
}

// dropAllMySQLTables removes every store and its side/FTS tables, since a
// MySQL DSN names a database, not a single file DeleteDatabase can unlink.
// The metadata table is left in place: ListStoreNames does not report it.
func (p *Provider) dropAllMySQLTables(ctx context.Context) error {
	tx, err := p.sqlConn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin delete transaction: %s", storeerr.ErrBackendError, err)
	}

	migBackend := &sqlmig.Backend{Exec: tx, Dialect: p.sqlDialect, Caps: p.caps}
	names, err := migBackend.ListStoreNames(ctx)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: list stores: %s", storeerr.ErrBackendError, err)
	}
	for _, name := range names {
		if err := migBackend.DropStore(ctx, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: drop store %q: %s", storeerr.ErrBackendError, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %s", storeerr.ErrBackendError, err)
	}
	return nil
}

// notify forwards err to cfg.OnError, if set, then returns err unchanged
// so callers can always write `return p.notify(err)`. A panic raised by
// the observer is recovered and discarded.
func (p *Provider) notify(err error) error {
	if err != nil && p.cfg.OnError != nil {
		func() {
			defer func() { _ = recover() }()
			p.cfg.OnError.ObserveError(err)
		}()
	}
	return err
}
