// Package boltdb adapts go.etcd.io/bbolt to the driver.CursorStore
// interface. bbolt is the Go-native analog of a browser's IndexedDB
// cursor-based backend: ordered byte-slice keys within named buckets,
// manual transactions, no SQL layer at all.
package boltdb

import (
	"context"
	"fmt"
	"math"

	bolt "go.etcd.io/bbolt"

	"nsprovider/internal/driver"
)

type store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database file at path.
func Open(path string) (driver.CursorStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %q: %w", path, err)
	}
	return &store{db: db}, nil
}

func (s *store) BeginTx(_ context.Context, writable bool) (driver.BucketTx, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("boltdb: begin transaction: %w", err)
	}
	return &bucketTx{tx: tx}, nil
}

func (s *store) Close() error { return s.db.Close() }

func (s *store) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		SupportsNativeFTS:        false,
		SupportsCompoundKeys:     true,
		MaxVariablesPerStatement: math.MaxInt,
	}
}

type bucketTx struct {
	tx *bolt.Tx
}

func (t *bucketTx) Bucket(name string) (driver.Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("boltdb: bucket %q does not exist", name)
	}
	return bucket{b: b}, nil
}

func (t *bucketTx) CreateBucketIfNotExists(name string) (driver.Bucket, error) {
	b, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("boltdb: create bucket %q: %w", name, err)
	}
	return bucket{b: b}, nil
}

func (t *bucketTx) DeleteBucket(name string) error {
	err := t.tx.DeleteBucket([]byte(name))
	if err == bolt.ErrBucketNotFound {
		return nil
	}
	return err
}

func (t *bucketTx) ForEachBucketName(fn func(name string) error) error {
	return t.tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		return fn(string(name))
	})
}

func (t *bucketTx) Commit() error   { return t.tx.Commit() }
func (t *bucketTx) Rollback() error { return t.tx.Rollback() }

type bucket struct {
	b *bolt.Bucket
}

func (b bucket) Get(key []byte) []byte {
	v := b.b.Get(key)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (b bucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b bucket) Delete(key []byte) error     { return b.b.Delete(key) }

func (b bucket) Cursor() driver.Cursor { return cursor{c: b.b.Cursor()} }

type cursor struct {
	c *bolt.Cursor
}

func (c cursor) First() (key, value []byte) { return c.c.First() }
func (c cursor) Last() (key, value []byte)  { return c.c.Last() }
func (c cursor) Next() (key, value []byte)  { return c.c.Next() }
func (c cursor) Prev() (key, value []byte)  { return c.c.Prev() }
func (c cursor) Seek(prefix []byte) (key, value []byte) {
	return c.c.Seek(prefix)
}
