package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nsprovider/internal/fts"
	"nsprovider/internal/keypath"
	"nsprovider/internal/schema"
	"nsprovider/internal/storeerr"
)

// Store is the per-transaction handle a caller gets back from
// Transaction.Store(name). It owns no resources of its own: every method
// delegates to the Backend that was selected once at Provider.Open.
type Store struct {
	schema  schema.StoreSchema
	backend Backend
}

// New builds a Store bound to one declared store and the Backend serving
// the transaction it belongs to.
func New(s schema.StoreSchema, b Backend) *Store {
	return &Store{schema: s, backend: b}
}

// Schema returns the declared shape this Store was opened against.
func (s *Store) Schema() schema.StoreSchema { return s.schema }

// Get fetches a single item by primary key value.
func (s *Store) Get(ctx context.Context, key any) (map[string]any, bool, error) {
	pk, err := keypath.Serialize(key, s.schema.PrimaryKeyPath)
	if err != nil {
		return nil, false, err
	}
	raw, found, err := s.backend.GetItem(ctx, s.schema.Name, pk)
	if err != nil || !found {
		return nil, found, err
	}
	item, err := decodeItem(raw)
	return item, true, err
}

// GetMultiple fetches items for a batch of primary key values. Keys with
// no matching item are simply omitted from the result, not reported as
// errors. An empty input returns nil without touching the backend.
func (s *Store) GetMultiple(ctx context.Context, keys []any) ([]map[string]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pks := make([]string, len(keys))
	for i, k := range keys {
		pk, err := keypath.Serialize(k, s.schema.PrimaryKeyPath)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		pks[i] = pk
	}

	raws, err := s.backend.GetItems(ctx, s.schema.Name, pks)
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, pk := range pks {
		raw, ok := raws[pk]
		if !ok {
			continue
		}
		item, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Put upserts one or more items: each item's primary key and every
// declared index's value are recomputed and the prior values for that
// primary key (side rows, full-text tokens) are replaced, never merged.
func (s *Store) Put(ctx context.Context, items ...map[string]any) error {
	if len(items) == 0 {
		return nil
	}

	prepared := make([]PreparedItem, len(items))
	for i, item := range items {
		p, err := s.prepareItem(item)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		prepared[i] = p
	}
	return s.backend.PutItems(ctx, s.schema, prepared)
}

// Remove deletes items by primary key value, along with every side
// row/bucket entry that referenced them.
func (s *Store) Remove(ctx context.Context, keys ...any) error {
	if len(keys) == 0 {
		return nil
	}
	pks := make([]string, len(keys))
	for i, k := range keys {
		pk, err := keypath.Serialize(k, s.schema.PrimaryKeyPath)
		if err != nil {
			return fmt.Errorf("key %d: %w", i, err)
		}
		pks[i] = pk
	}
	return s.backend.RemoveItems(ctx, s.schema, pks)
}

// ClearAllData empties the store and every index side table/bucket it
// owns, leaving the declared shape (and index metadata) untouched.
func (s *Store) ClearAllData(ctx context.Context) error {
	return s.backend.ClearStore(ctx, s.schema)
}

// OpenIndex returns a read-only view over one declared secondary index.
func (s *Store) OpenIndex(name string) (*Index, error) {
	idx, ok := s.schema.FindIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: index %q not declared on store %q", storeerr.ErrIndexNotFound, name, s.schema.Name)
	}
	return &Index{store: s.schema, index: idx, backend: s.backend}, nil
}

// OpenPrimaryKey returns a synthetic index view over the primary key
// itself, so range/only queries against the primary key use the exact
// same GetAll/GetOnly/GetRange machinery as any declared index.
func (s *Store) OpenPrimaryKey() *Index {
	return &Index{
		store:   s.schema,
		index:   schema.IndexSchema{Name: "", KeyPath: s.schema.PrimaryKeyPath, Unique: true},
		backend: s.backend,
		isPK:    true,
	}
}

func decodeItem(raw []byte) (map[string]any, error) {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: decode stored item: %s", storeerr.ErrBackendError, err)
	}
	return item, nil
}

// prepareItem computes everything a Backend needs to persist one item:
// its primary key, its JSON payload (stripped of U+2028/U+2029 when the
// backend requires it — MySQL's historical utf8 charset can't round-trip
// those code points), and every index's entry.
func (s *Store) prepareItem(item map[string]any) (PreparedItem, error) {
	pk, err := keypath.SerializeItemKey(item, s.schema.PrimaryKeyPath)
	if err != nil {
		return PreparedItem{}, err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return PreparedItem{}, fmt.Errorf("%w: encode item: %s", storeerr.ErrInvalidArgument, err)
	}
	if s.backend.Capabilities().RequiresUnicodeReplacement {
		data = stripLineSeparators(data)
	}

	indexes := make(map[string]IndexEntry, len(s.schema.Indexes))
	for _, idx := range s.schema.Indexes {
		entry, ok, err := prepareIndexEntry(item, idx)
		if err != nil {
			return PreparedItem{}, fmt.Errorf("index %q: %w", idx.Name, err)
		}
		if !ok {
			continue
		}
		indexes[idx.Name] = entry
	}

	return PreparedItem{PK: pk, Data: data, Indexes: indexes}, nil
}

// stripLineSeparators removes U+2028/U+2029, which MySQL's legacy utf8
// (3-byte) charset cannot store even though utf8mb4 in principle can; the
// reference implementation strips them unconditionally for that backend
// rather than relying on every deployment using utf8mb4 correctly.
func stripLineSeparators(data []byte) []byte {
	s := string(data)
	if !strings.ContainsRune(s, ' ') && !strings.ContainsRune(s, ' ') {
		return data
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	return []byte(s)
}

// prepareIndexEntry computes one index's IndexEntry for item. ok is false
// when the item has no value at the index's key path, meaning the item
// simply is not represented in that index (not an error).
func prepareIndexEntry(item map[string]any, idx schema.IndexSchema) (IndexEntry, bool, error) {
	if idx.FullText {
		v, ok := keypath.Extract(item, idx.KeyPath.Single)
		if !ok {
			return IndexEntry{}, false, nil
		}
		text, ok := v.(string)
		if !ok {
			return IndexEntry{}, false, fmt.Errorf("%w: full-text index requires a string value, got %T", storeerr.ErrInvalidKey, v)
		}
		return IndexEntry{FullText: true, Tokens: fts.Words(text)}, true, nil
	}

	if idx.MultiEntry {
		v, ok := keypath.Extract(item, idx.KeyPath.Single)
		if !ok {
			return IndexEntry{}, false, nil
		}
		elements, isSlice := v.([]any)
		if !isSlice {
			elements = []any{v}
		}

		seen := make(map[string]struct{}, len(elements))
		var values []string
		for _, el := range elements {
			enc, err := keypath.SerializeValue(el)
			if err != nil {
				return IndexEntry{}, false, err
			}
			if _, dup := seen[enc]; dup {
				continue
			}
			seen[enc] = struct{}{}
			values = append(values, enc)
		}
		if len(values) == 0 {
			return IndexEntry{}, false, nil
		}
		return IndexEntry{MultiEntry: true, Values: values}, true, nil
	}

	values, ok := keypath.ExtractKeyPath(item, idx.KeyPath)
	if !ok {
		return IndexEntry{}, false, nil
	}
	var enc string
	var err error
	if idx.KeyPath.IsCompound() {
		enc, err = keypath.Serialize(values, idx.KeyPath)
	} else {
		enc, err = keypath.Serialize(values[0], idx.KeyPath)
	}
	if err != nil {
		return IndexEntry{}, false, err
	}
	return IndexEntry{Values: []string{enc}}, true, nil
}
