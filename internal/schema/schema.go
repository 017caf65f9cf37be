// Package schema contains the single source of truth for a declared
// database schema: stores, their primary keys, and their indexes. It is
// the data model every backend (bbolt, SQLite, MySQL) reconciles against
// at open time.
package schema

import (
	"fmt"
	"regexp"

	"nsprovider/internal/storeerr"
)

// KeyPath is a dotted field path ("a.b.c") or, for a compound key, an
// ordered sequence of such paths.
type KeyPath struct {
	Single   string
	Compound []string
}

// Single builds a KeyPath from a single dotted path.
func Single(path string) KeyPath { return KeyPath{Single: path} }

// Compound builds a KeyPath from an ordered sequence of dotted paths.
func Compound(paths ...string) KeyPath { return KeyPath{Compound: paths} }

// IsCompound reports whether the key path has more than one component.
func (k KeyPath) IsCompound() bool { return len(k.Compound) > 0 }

// Paths returns the ordered list of dotted paths, whether the key is
// single or compound.
func (k KeyPath) Paths() []string {
	if k.IsCompound() {
		return k.Compound
	}
	return []string{k.Single}
}

// String renders the key path for diagnostics and for use as part of a
// deterministic column/bucket name.
func (k KeyPath) String() string {
	if k.IsCompound() {
		out := ""
		for i, p := range k.Compound {
			if i > 0 {
				out += ","
			}
			out += p
		}
		return out
	}
	return k.Single
}

// Schema is the caller-declared, immutable-per-open description of a
// database: its version and the set of stores it contains.
type Schema struct {
	Version           int
	LastUsableVersion *int
	Stores            []StoreSchema
}

// StoreSchema describes one named collection of items.
type StoreSchema struct {
	Name           string
	PrimaryKeyPath KeyPath
	Indexes        []IndexSchema
}

// IndexSchema describes one secondary ordering over a store.
type IndexSchema struct {
	Name               string
	KeyPath            KeyPath
	Unique             bool
	MultiEntry         bool
	FullText           bool
	IncludeDataInIndex bool
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the whole schema for structural and per-index
// invariants, returning the first violation found.
func (s Schema) Validate() error {
	if s.Version < 0 {
		return fmt.Errorf("%w: schema version must be non-negative, got %d", storeerr.ErrInvalidArgument, s.Version)
	}
	if s.LastUsableVersion != nil && *s.LastUsableVersion > s.Version {
		return fmt.Errorf("%w: lastUsableVersion %d exceeds declared version %d", storeerr.ErrInvalidArgument, *s.LastUsableVersion, s.Version)
	}

	seenStores := make(map[string]struct{}, len(s.Stores))
	for _, st := range s.Stores {
		if !identPattern.MatchString(st.Name) {
			return fmt.Errorf("%w: store name %q is not a valid identifier", storeerr.ErrInvalidArgument, st.Name)
		}
		if _, dup := seenStores[st.Name]; dup {
			return fmt.Errorf("%w: duplicate store name %q", storeerr.ErrInvalidArgument, st.Name)
		}
		seenStores[st.Name] = struct{}{}

		if err := st.Validate(); err != nil {
			return fmt.Errorf("store %q: %w", st.Name, err)
		}
	}
	return nil
}

// Validate checks one store's indexes for name uniqueness and per-index
// invariants.
func (st StoreSchema) Validate() error {
	if len(st.PrimaryKeyPath.Paths()) == 0 || st.PrimaryKeyPath.Paths()[0] == "" {
		return fmt.Errorf("%w: primary key path must be non-empty", storeerr.ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(st.Indexes))
	for _, idx := range st.Indexes {
		if !identPattern.MatchString(idx.Name) {
			return fmt.Errorf("%w: index name %q is not a valid identifier", storeerr.ErrInvalidArgument, idx.Name)
		}
		if _, dup := seen[idx.Name]; dup {
			return fmt.Errorf("%w: duplicate index name %q", storeerr.ErrInvalidArgument, idx.Name)
		}
		seen[idx.Name] = struct{}{}

		if err := idx.Validate(); err != nil {
			return fmt.Errorf("index %q: %w", idx.Name, err)
		}
	}
	return nil
}

// Validate enforces the mutual-exclusion rules from the data model:
// MultiEntry forbids a compound key path, FullText requires a single
// string-valued key path, and FullText/MultiEntry are mutually exclusive.
func (idx IndexSchema) Validate() error {
	if idx.MultiEntry && idx.KeyPath.IsCompound() {
		return fmt.Errorf("%w: multi-entry index cannot have a compound key path", storeerr.ErrInvalidArgument)
	}
	if idx.FullText && idx.KeyPath.IsCompound() {
		return fmt.Errorf("%w: full-text index requires a single key path", storeerr.ErrInvalidArgument)
	}
	if idx.FullText && idx.MultiEntry {
		return fmt.Errorf("%w: full-text and multi-entry are mutually exclusive", storeerr.ErrInvalidArgument)
	}
	return nil
}

// FindStore looks up a store by name.
func (s Schema) FindStore(name string) (StoreSchema, bool) {
	for _, st := range s.Stores {
		if st.Name == name {
			return st, true
		}
	}
	return StoreSchema{}, false
}

// FindIndex looks up an index by name within a store.
func (st StoreSchema) FindIndex(name string) (IndexSchema, bool) {
	for _, idx := range st.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// IndexMetadata is the persisted, JSON-encoded description of one index's
// declared shape, used by the migration engine to detect schema drift
// across opens. It is intentionally a separate type from IndexSchema (even
// though the fields mirror it) so that the on-disk JSON shape is decoupled
// from in-memory struct changes.
type IndexMetadata struct {
	Key         string `json:"key"`
	StoreName   string `json:"storeName"`
	IndexName   string `json:"indexName"`
	KeyPath     string `json:"keyPath"`
	Compound    bool   `json:"compound"`
	Unique      bool   `json:"unique"`
	MultiEntry  bool   `json:"multiEntry"`
	FullText    bool   `json:"fullText"`
	IncludeData bool   `json:"includeDataInIndex"`
}

// MetadataKey returns the "<storeName>_<indexName>" key used to store an
// index's metadata row.
func MetadataKey(storeName, indexName string) string {
	return storeName + "_" + indexName
}

// ToMetadata converts a declared IndexSchema into its persisted form.
func ToMetadata(storeName string, idx IndexSchema) IndexMetadata {
	return IndexMetadata{
		Key:         MetadataKey(storeName, idx.Name),
		StoreName:   storeName,
		IndexName:   idx.Name,
		KeyPath:     idx.KeyPath.String(),
		Compound:    idx.KeyPath.IsCompound(),
		Unique:      idx.Unique,
		MultiEntry:  idx.MultiEntry,
		FullText:    idx.FullText,
		IncludeData: idx.IncludeDataInIndex,
	}
}

// Matches reports whether a persisted IndexMetadata row still matches a
// currently-declared IndexSchema. A mismatch means the index has drifted
// and its backing table/bucket must be rebuilt.
func (m IndexMetadata) Matches(storeName string, idx IndexSchema) bool {
	return m == ToMetadata(storeName, idx)
}
