package store

import (
	"context"
	"fmt"

	"nsprovider/internal/fulltext"
	"nsprovider/internal/keypath"
	"nsprovider/internal/schema"
	"nsprovider/internal/storeerr"
)

// maxLimit is the largest limit a caller may request; IndexedDB's own
// range is effectively unbounded, so this only guards against an
// accidental int overflow turning into a negative SQL LIMIT.
const maxLimit = 1<<32 - 1

// Index is a read-only view over one store's primary key or one of its
// declared secondary indexes.
type Index struct {
	store   schema.StoreSchema
	index   schema.IndexSchema
	backend Backend
	isPK    bool
}

// Name returns the index's declared name, or "" for the primary key view.
func (i *Index) Name() string { return i.index.Name }

func clampLimit(limit *int) *int {
	if limit == nil {
		return nil
	}
	n := *limit
	if n > maxLimit {
		n = maxLimit
	}
	return &n
}

// GetAll returns every item the index holds, ordered by index key
// (ascending, or descending when reverse is true), honoring limit/offset.
func (i *Index) GetAll(ctx context.Context, reverse bool, limit, offset *int) ([]map[string]any, error) {
	return i.resolve(ctx, IndexQuery{Reverse: reverse, Limit: clampLimit(limit), Offset: offset})
}

// GetOnly returns every item whose index value serializes to exactly key.
func (i *Index) GetOnly(ctx context.Context, key any, limit, offset *int) ([]map[string]any, error) {
	enc, err := i.serializeKey(key)
	if err != nil {
		return nil, err
	}
	return i.resolve(ctx, IndexQuery{Only: &enc, Limit: clampLimit(limit), Offset: offset})
}

// GetRange returns every item whose index value falls within [lo, hi] by
// default; loExcl/hiExcl make either bound exclusive. A nil lo or hi
// leaves that side of the range open.
func (i *Index) GetRange(ctx context.Context, lo, hi any, loExcl, hiExcl bool, reverse bool, limit, offset *int) ([]map[string]any, error) {
	q := IndexQuery{LoExcl: loExcl, HiExcl: hiExcl, Reverse: reverse, Limit: clampLimit(limit), Offset: offset}
	if lo != nil {
		enc, err := i.serializeKey(lo)
		if err != nil {
			return nil, err
		}
		q.Lo = &enc
	}
	if hi != nil {
		enc, err := i.serializeKey(hi)
		if err != nil {
			return nil, err
		}
		q.Hi = &enc
	}
	return i.resolve(ctx, q)
}

// CountAll, CountOnly, and CountRange mirror the read operations above,
// returning a count instead of materialized items.
func (i *Index) CountAll(ctx context.Context) (int, error) {
	pks, err := i.backend.IndexScan(ctx, i.store, i.index, IndexQuery{})
	return len(pks), err
}

func (i *Index) CountOnly(ctx context.Context, key any) (int, error) {
	enc, err := i.serializeKey(key)
	if err != nil {
		return 0, err
	}
	pks, err := i.backend.IndexScan(ctx, i.store, i.index, IndexQuery{Only: &enc})
	return len(pks), err
}

func (i *Index) CountRange(ctx context.Context, lo, hi any, loExcl, hiExcl bool) (int, error) {
	q := IndexQuery{LoExcl: loExcl, HiExcl: hiExcl}
	if lo != nil {
		enc, err := i.serializeKey(lo)
		if err != nil {
			return 0, err
		}
		q.Lo = &enc
	}
	if hi != nil {
		enc, err := i.serializeKey(hi)
		if err != nil {
			return 0, err
		}
		q.Hi = &enc
	}
	pks, err := i.backend.IndexScan(ctx, i.store, i.index, q)
	return len(pks), err
}

// FullTextSearch delegates to internal/fulltext, then materializes the
// matching items in the order their primary keys were returned.
func (i *Index) FullTextSearch(ctx context.Context, phrase string, resolution fulltext.Resolution, limit *int) ([]map[string]any, error) {
	if !i.index.FullText {
		return nil, fmt.Errorf("%w: index %q is not a full-text index", storeerr.ErrInvalidArgument, i.index.Name)
	}
	pks, err := i.backend.FullTextSearch(ctx, i.store, i.index, phrase, resolution, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return i.materialize(ctx, pks)
}

func (i *Index) serializeKey(key any) (string, error) {
	if i.isPK {
		return keypath.Serialize(key, i.store.PrimaryKeyPath)
	}
	if i.index.KeyPath.IsCompound() {
		return keypath.Serialize(key, i.index.KeyPath)
	}
	return keypath.SerializeValue(key)
}

func (i *Index) resolve(ctx context.Context, q IndexQuery) ([]map[string]any, error) {
	pks, err := i.backend.IndexScan(ctx, i.store, i.index, q)
	if err != nil {
		return nil, err
	}
	return i.materialize(ctx, pks)
}

// materialize fetches and decodes items for an ordered list of primary
// keys, preserving order and duplicates exactly as returned (a multi-entry
// index's GetAll legitimately repeats a primary key once per matching
// array element, mirroring IndexedDB).
func (i *Index) materialize(ctx context.Context, pks []string) ([]map[string]any, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	raws, err := i.backend.GetItems(ctx, i.store.Name, pks)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(pks))
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
