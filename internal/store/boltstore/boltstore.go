// Package boltstore implements store.Backend over a bbolt transaction,
// using the same "<store>.idx.<index>" bucket naming internal/migrate's
// boltmig package establishes when it created the store.
package boltstore

import (
	"bytes"
	"fmt"

	"context"

	"nsprovider/internal/driver"
	"nsprovider/internal/fulltext"
	"nsprovider/internal/migrate/boltmig"
	"nsprovider/internal/schema"
	"nsprovider/internal/store"
)

// Backend implements store.Backend over an open bbolt transaction.
type Backend struct {
	Tx   driver.BucketTx
	Caps driver.Capabilities
}

func (b *Backend) Capabilities() driver.Capabilities { return b.Caps }

func (b *Backend) GetItem(_ context.Context, storeName, pk string) ([]byte, bool, error) {
	bucket, err := b.Tx.Bucket(storeName)
	if err != nil {
		return nil, false, nil
	}
	v := bucket.Get([]byte(pk))
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (b *Backend) GetItems(_ context.Context, storeName string, pks []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(pks))
	bucket, err := b.Tx.Bucket(storeName)
	if err != nil {
		return out, nil
	}
	for _, pk := range pks {
		if v := bucket.Get([]byte(pk)); v != nil {
			out[pk] = v
		}
	}
	return out, nil
}

func (b *Backend) PutItems(_ context.Context, st schema.StoreSchema, items []store.PreparedItem) error {
	base, err := b.Tx.CreateBucketIfNotExists(st.Name)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := base.Put([]byte(item.PK), item.Data); err != nil {
			return err
		}

		for _, idx := range st.Indexes {
			bucketName := boltmig.IndexBucketName(st.Name, idx.Name)
			idxBucket, err := b.Tx.CreateBucketIfNotExists(bucketName)
			if err != nil {
				return err
			}

			if err := deleteKeysForPK(idxBucket, item.PK); err != nil {
				return err
			}

			entry, ok := item.Indexes[idx.Name]
			if !ok {
				continue
			}

			if idx.FullText {
				for _, tok := range entry.Tokens {
					if err := idxBucket.Put(fulltext.TokenBucketKey(tok, item.PK), []byte(item.PK)); err != nil {
						return err
					}
				}
				continue
			}

			for _, v := range entry.Values {
				key := indexEntryKey(v, item.PK)
				if err := idxBucket.Put(key, []byte(item.PK)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// indexEntryKey builds a side-bucket key ordered first by the serialized
// index value and second by primary key, so a cursor walk in key order
// walks the index in index-value order and ties break by primary key.
func indexEntryKey(value, pk string) []byte {
	return append(append([]byte(value), 0x00), pk...)
}

// deleteKeysForPK removes every entry in an index bucket whose value is
// pk, regardless of what key (index value or FTS token) it was filed
// under — the only way to remove a multi-entry/full-text index's prior
// entries for an item without tracking them separately.
func deleteKeysForPK(bucket driver.Bucket, pk string) error {
	var stale [][]byte
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if string(v) == pk {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) RemoveItems(_ context.Context, st schema.StoreSchema, pks []string) error {
	base, err := b.Tx.Bucket(st.Name)
	if err != nil {
		return nil
	}
	for _, pk := range pks {
		for _, idx := range st.Indexes {
			idxBucket, err := b.Tx.Bucket(boltmig.IndexBucketName(st.Name, idx.Name))
			if err != nil {
				continue
			}
			if err := deleteKeysForPK(idxBucket, pk); err != nil {
				return err
			}
		}
		if err := base.Delete([]byte(pk)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ClearStore(_ context.Context, st schema.StoreSchema) error {
	if err := b.Tx.DeleteBucket(st.Name); err != nil {
		return err
	}
	if _, err := b.Tx.CreateBucketIfNotExists(st.Name); err != nil {
		return err
	}
	for _, idx := range st.Indexes {
		name := boltmig.IndexBucketName(st.Name, idx.Name)
		if err := b.Tx.DeleteBucket(name); err != nil {
			return err
		}
		if _, err := b.Tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) IndexScan(_ context.Context, st schema.StoreSchema, idx schema.IndexSchema, q store.IndexQuery) ([]string, error) {
	bucketName := st.Name
	if idx.Name != "" {
		bucketName = boltmig.IndexBucketName(st.Name, idx.Name)
	}
	bucket, err := b.Tx.Bucket(bucketName)
	if err != nil {
		return nil, nil
	}

	isPK := idx.Name == ""
	var pks []string
	c := bucket.Cursor()

	collect := func(k, v []byte) {
		if isPK {
			pks = append(pks, string(k))
		} else {
			pks = append(pks, string(v))
		}
	}

	switch {
	case q.Only != nil:
		lo := []byte(*q.Only)
		hi := append(append([]byte{}, lo...), 0x01)
		for k, v := c.Seek(lo); k != nil && bytes.Compare(entryValuePrefix(k, isPK), hi) < 0; k, v = c.Next() {
			if bytes.Equal(entryValuePrefix(k, isPK), lo) {
				collect(k, v)
			} else {
				break
			}
		}

	default:
		var start []byte
		if q.Lo != nil {
			start = []byte(*q.Lo)
		}
		k, v := seekOrFirst(c, start)
		for ; k != nil; k, v = c.Next() {
			val := entryValuePrefix(k, isPK)
			if q.Lo != nil && q.LoExcl && bytes.Equal(val, []byte(*q.Lo)) {
				continue
			}
			if q.Hi != nil {
				cmp := bytes.Compare(val, []byte(*q.Hi))
				if cmp > 0 || (cmp == 0 && q.HiExcl) {
					break
				}
			}
			collect(k, v)
		}
	}

	if q.Reverse {
		for i, j := 0, len(pks)-1; i < j; i, j = i+1, j-1 {
			pks[i], pks[j] = pks[j], pks[i]
		}
	}
	return applyOffsetLimit(pks, q.Offset, q.Limit), nil
}

// entryValuePrefix returns the index-value portion of a bucket key: the
// whole key for the primary-key view (plain pk bytes), or everything
// before the 0x00 separator indexEntryKey appended for a secondary index.
func entryValuePrefix(key []byte, isPK bool) []byte {
	if isPK {
		return key
	}
	if i := bytes.IndexByte(key, 0x00); i >= 0 {
		return key[:i]
	}
	return key
}

func seekOrFirst(c driver.Cursor, prefix []byte) ([]byte, []byte) {
	if prefix == nil {
		return c.First()
	}
	return c.Seek(prefix)
}

func applyOffsetLimit(pks []string, offset, limit *int) []string {
	if offset != nil {
		n := *offset
		if n >= len(pks) {
			return nil
		}
		pks = pks[n:]
	}
	if limit != nil && *limit < len(pks) {
		pks = pks[:*limit]
	}
	return pks
}

func (b *Backend) FullTextSearch(_ context.Context, st schema.StoreSchema, idx schema.IndexSchema, phrase string, resolution fulltext.Resolution, limit *int) ([]string, error) {
	bucket, err := b.Tx.Bucket(boltmig.IndexBucketName(st.Name, idx.Name))
	if err != nil {
		return nil, fmt.Errorf("full-text index %q bucket missing: %w", idx.Name, err)
	}
	return fulltext.RangeScanBoltSearch(bucket, phrase, resolution, limit)
}
