package nsprovider

import (
	"context"
	"fmt"

	"nsprovider/internal/driver"
	"nsprovider/internal/fulltext"
	"nsprovider/internal/schema"
	"nsprovider/internal/store"
	"nsprovider/internal/store/boltstore"
	"nsprovider/internal/store/sqlstore"
	"nsprovider/internal/storeerr"
	"nsprovider/internal/txlock"
)

// Transaction is the sole unit of isolation: every Store it opens shares
// the one underlying *sql.Tx/*bbolt.Tx, so side-table/bucket writes
// inside Put never open a second transaction and cannot deadlock against
// sibling operations on the same handle.
type Transaction struct {
	provider *Provider
	ticket   *txlock.Ticket

	sqlTx    driver.SQLTx
	bucketTx driver.BucketTx

	closed   bool
	firstErr error
}

// Store returns the runtime handle for one declared store, bound to this
// transaction's connection. Every error the backend returns while an
// operation on it runs poisons the transaction: Commit will refuse to
// commit and report that error instead, mirroring a backend-level
// constraint violation forcing a rollback. Errors raised before the
// backend is reached (a key that cannot be serialized, an unknown index
// name) are returned without poisoning it.
func (t *Transaction) Store(name string) (*store.Store, error) {
	if t.closed {
		return nil, storeerr.ErrTransactionClosed
	}
	st, ok := t.provider.cfg.Schema.FindStore(name)
	if !ok {
		return nil, fmt.Errorf("%w: store %q not declared", storeerr.ErrStoreNotFound, name)
	}

	var backend store.Backend
	if t.sqlTx != nil {
		backend = &sqlstore.Backend{Exec: t.sqlTx, Dialect: t.provider.sqlDialect, Caps: t.provider.caps}
	} else {
		backend = &boltstore.Backend{Tx: t.bucketTx, Caps: t.provider.caps}
	}

	return store.New(st, &recordingBackend{inner: backend, tx: t}), nil
}

// Commit commits the underlying transaction and releases its admission
// ticket. If an earlier operation poisoned the transaction, Commit rolls
// back instead and returns the poisoning error wrapped in
// ErrTransactionAborted.
func (t *Transaction) Commit() error {
	if t.closed {
		return storeerr.ErrTransactionClosed
	}
	t.closed = true

	if t.firstErr != nil {
		_ = t.rollbackUnderlying()
		t.ticket.Fail()
		return t.provider.notify(fmt.Errorf("%w: %s", storeerr.ErrTransactionAborted, t.firstErr))
	}

	if err := t.commitUnderlying(); err != nil {
		t.ticket.Fail()
		return t.provider.notify(fmt.Errorf("%w: commit: %s", storeerr.ErrBackendError, err))
	}
	t.ticket.Complete()
	return nil
}

// Rollback discards the underlying transaction and releases its
// admission ticket. Safe to call after a poisoning operation error
// instead of Commit.
func (t *Transaction) Rollback() error {
	if t.closed {
		return storeerr.ErrTransactionClosed
	}
	t.closed = true

	err := t.rollbackUnderlying()
	t.ticket.Fail()
	if err != nil {
		return t.provider.notify(fmt.Errorf("%w: rollback: %s", storeerr.ErrBackendError, err))
	}
	return nil
}

func (t *Transaction) commitUnderlying() error {
	if t.sqlTx != nil {
		return t.sqlTx.Commit()
	}
	return t.bucketTx.Commit()
}

func (t *Transaction) rollbackUnderlying() error {
	if t.sqlTx != nil {
		return t.sqlTx.Rollback()
	}
	return t.bucketTx.Rollback()
}

// poison records the first operation error a Store call on this
// transaction produced, so Commit can refuse to commit over it.
func (t *Transaction) poison(err error) {
	if t.firstErr == nil {
		t.firstErr = err
	}
}

// recordingBackend wraps a store.Backend so every error it returns
// poisons the owning Transaction, without internal/store itself needing
// any notion of a transaction.
type recordingBackend struct {
	inner store.Backend
	tx    *Transaction
}

func (b *recordingBackend) record(err error) error {
	if err != nil {
		b.tx.poison(err)
	}
	return err
}

func (b *recordingBackend) Capabilities() driver.Capabilities { return b.inner.Capabilities() }

func (b *recordingBackend) GetItem(ctx context.Context, storeName, pk string) ([]byte, bool, error) {
	data, ok, err := b.inner.GetItem(ctx, storeName, pk)
	return data, ok, b.record(err)
}

func (b *recordingBackend) GetItems(ctx context.Context, storeName string, pks []string) (map[string][]byte, error) {
	out, err := b.inner.GetItems(ctx, storeName, pks)
	return out, b.record(err)
}

func (b *recordingBackend) PutItems(ctx context.Context, st schema.StoreSchema, items []store.PreparedItem) error {
	return b.record(b.inner.PutItems(ctx, st, items))
}

func (b *recordingBackend) RemoveItems(ctx context.Context, st schema.StoreSchema, pks []string) error {
	return b.record(b.inner.RemoveItems(ctx, st, pks))
}

func (b *recordingBackend) ClearStore(ctx context.Context, st schema.StoreSchema) error {
	return b.record(b.inner.ClearStore(ctx, st))
}

func (b *recordingBackend) IndexScan(ctx context.Context, st schema.StoreSchema, idx schema.IndexSchema, q store.IndexQuery) ([]string, error) {
	pks, err := b.inner.IndexScan(ctx, st, idx, q)
	return pks, b.record(err)
}

func (b *recordingBackend) FullTextSearch(ctx context.Context, st schema.StoreSchema, idx schema.IndexSchema, phrase string, resolution fulltext.Resolution, limit *int) ([]string, error) {
	pks, err := b.inner.FullTextSearch(ctx, st, idx, phrase, resolution, limit)
	return pks, b.record(err)
}
