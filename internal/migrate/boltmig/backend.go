// Package boltmig specializes the shared migration algorithm
// (internal/migrate) for the bbolt backend. bbolt has no DDL text to
// compare, so drift detection here is purely structural: does the
// expected top-level bucket exist, and does its persisted IndexMetadata
// still match the declared index.
package boltmig

import (
	"context"
	"encoding/json"
	"strings"

	"nsprovider/internal/driver"
	"nsprovider/internal/schema"
)

// metadataBucket is the single top-level bucket holding the schema
// version entry and one JSON IndexMetadata entry per declared index,
// mirroring sqlmig's metadata table.
const metadataBucket = "nsp_metadata"

const schemaVersionKey = "__schemaVersion__"

// IndexBucketName returns the top-level bucket name backing one index.
// Every index (column-equivalent, multi-entry, and full-text) gets a
// bucket here; bbolt has no notion of a lighter-weight "column" the way
// the SQL backends do, so there is no analog to sqlmig's column-vs-side-
// table distinction.
func IndexBucketName(storeName, indexName string) string {
	return storeName + ".idx." + indexName
}

// Backend implements migrate.Backend over an open bbolt transaction.
type Backend struct {
	Tx   driver.BucketTx
	Caps driver.Capabilities
}

func (b *Backend) ReadSchemaVersion(context.Context) (int, bool, error) {
	bucket, err := b.Tx.Bucket(metadataBucket)
	if err != nil {
		return 0, false, nil
	}
	raw := bucket.Get([]byte(schemaVersionKey))
	if raw == nil {
		return 0, false, nil
	}
	var version int
	if err := json.Unmarshal(raw, &version); err != nil {
		return 0, false, err
	}
	return version, true, nil
}

func (b *Backend) WriteSchemaVersion(_ context.Context, version int) error {
	bucket, err := b.Tx.CreateBucketIfNotExists(metadataBucket)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(schemaVersionKey), raw)
}

func (b *Backend) ReadAllIndexMetadata(context.Context) (map[string]schema.IndexMetadata, error) {
	bucket, err := b.Tx.Bucket(metadataBucket)
	if err != nil {
		return map[string]schema.IndexMetadata{}, nil
	}

	out := make(map[string]schema.IndexMetadata)
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		key := string(k)
		if key == schemaVersionKey {
			continue
		}
		var meta schema.IndexMetadata
		if err := json.Unmarshal(v, &meta); err != nil {
			continue
		}
		out[key] = meta
	}
	return out, nil
}

func (b *Backend) WriteIndexMetadata(_ context.Context, meta schema.IndexMetadata) error {
	bucket, err := b.Tx.CreateBucketIfNotExists(metadataBucket)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(meta.Key), raw)
}

func (b *Backend) DeleteIndexMetadata(_ context.Context, key string) error {
	bucket, err := b.Tx.Bucket(metadataBucket)
	if err != nil {
		return nil
	}
	return bucket.Delete([]byte(key))
}

func (b *Backend) ListStoreNames(context.Context) ([]string, error) {
	var names []string
	err := b.Tx.ForEachBucketName(func(name string) error {
		if name == metadataBucket || strings.Contains(name, ".idx.") {
			return nil
		}
		names = append(names, name)
		return nil
	})
	return names, err
}

func (b *Backend) StoreExists(_ context.Context, name string) (bool, error) {
	_, err := b.Tx.Bucket(name)
	return err == nil, nil
}

func (b *Backend) StoreShapeDrifted(_ context.Context, store schema.StoreSchema, persisted map[string]schema.IndexMetadata) (bool, error) {
	if _, err := b.Tx.Bucket(store.Name); err != nil {
		return true, nil
	}

	for _, idx := range store.Indexes {
		meta, ok := persisted[schema.MetadataKey(store.Name, idx.Name)]
		if !ok || !meta.Matches(store.Name, idx) {
			return true, nil
		}
		if _, err := b.Tx.Bucket(IndexBucketName(store.Name, idx.Name)); err != nil {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) DropStore(_ context.Context, name string) error {
	if err := b.Tx.DeleteBucket(name); err != nil {
		return err
	}

	var indexBuckets []string
	prefix := name + ".idx."
	if err := b.Tx.ForEachBucketName(func(bucketName string) error {
		if strings.HasPrefix(bucketName, prefix) {
			indexBuckets = append(indexBuckets, bucketName)
		}
		return nil
	}); err != nil {
		return err
	}
	for _, ib := range indexBuckets {
		if err := b.Tx.DeleteBucket(ib); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) CreateStore(_ context.Context, store schema.StoreSchema) error {
	if _, err := b.Tx.CreateBucketIfNotExists(store.Name); err != nil {
		return err
	}
	for _, idx := range store.Indexes {
		if _, err := b.Tx.CreateBucketIfNotExists(IndexBucketName(store.Name, idx.Name)); err != nil {
			return err
		}
		if err := b.WriteIndexMetadata(context.Background(), schema.ToMetadata(store.Name, idx)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ReadAllItems(_ context.Context, storeName string) ([]map[string]any, error) {
	bucket, err := b.Tx.Bucket(storeName)
	if err != nil {
		return nil, nil
	}

	var items []map[string]any
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var item map[string]any
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
