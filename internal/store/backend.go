// Package store is the backend-parameterized runtime behind Put, Get,
// Remove, and every index read operation. It extracts and serializes keys
// (internal/keypath), tokenizes full-text values (internal/fts), and hands
// the prepared item to a small Backend interface that sqlstore and
// boltstore implement in their own storage terms.
package store

import (
	"context"

	"nsprovider/internal/driver"
	"nsprovider/internal/fulltext"
	"nsprovider/internal/schema"
)

// IndexEntry is one index's computed value(s) for a single item, ready for
// a Backend to persist however it represents that index.
type IndexEntry struct {
	// Values holds one serialized key per side-table/bucket row this entry
	// needs: exactly one for a regular or compound-key index, one per
	// deduplicated array element for a multi-entry index.
	Values []string
	// MultiEntry mirrors the index's declared shape so a Backend doesn't
	// need the full schema.IndexSchema to know how to write Values.
	MultiEntry bool
	// Tokens holds the tokenized words of a full-text index's source
	// value; only set when the index is FullText.
	FullText bool
	Tokens   []string
}

// PreparedItem is one item reduced to exactly what a Backend needs to
// persist it: its serialized primary key, its JSON-encoded payload, and
// every index's computed entry (indexes the item has no value for are
// simply absent from the map).
type PreparedItem struct {
	PK      string
	Data    []byte
	Indexes map[string]IndexEntry
}

// IndexQuery describes one read against a single index, covering GetAll
// (zero value plus Reverse/Limit/Offset), GetOnly (Only set), and GetRange
// (Lo/Hi set, independently optional for an open-ended range).
type IndexQuery struct {
	Only           *string
	Lo, Hi         *string
	LoExcl, HiExcl bool
	Reverse        bool
	Limit, Offset  *int
}

// Backend is implemented once per storage engine (sqlstore, boltstore).
// Every method receives the full schema.StoreSchema/IndexSchema it needs
// rather than caching it, so a Backend can remain a thin, stateless
// adapter over its driver handle.
type Backend interface {
	Capabilities() driver.Capabilities

	GetItem(ctx context.Context, storeName, pk string) ([]byte, bool, error)
	GetItems(ctx context.Context, storeName string, pks []string) (map[string][]byte, error)
	PutItems(ctx context.Context, store schema.StoreSchema, items []PreparedItem) error
	RemoveItems(ctx context.Context, store schema.StoreSchema, pks []string) error
	ClearStore(ctx context.Context, store schema.StoreSchema) error

	// IndexScan returns the primary keys matching q, in the order and
	// with the limit/offset/reverse q specifies. A multi-entry index may
	// legitimately repeat a primary key once per matching array element,
	// mirroring IndexedDB's own multi-entry semantics.
	IndexScan(ctx context.Context, store schema.StoreSchema, idx schema.IndexSchema, q IndexQuery) ([]string, error)

	FullTextSearch(ctx context.Context, store schema.StoreSchema, idx schema.IndexSchema, phrase string, resolution fulltext.Resolution, limit *int) ([]string, error)
}
