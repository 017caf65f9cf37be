// Package migrate implements the shared schema-reconciliation algorithm
// that runs once per Open: compare the caller's declared schema against
// whatever is physically persisted, and bring the persisted state in line
// — creating stores that are missing, dropping ones that are no longer
// declared, and rebuilding ones whose shape has drifted, all without
// losing data that the new schema can still represent.
package migrate

import (
	"context"
	"fmt"

	"nsprovider/internal/schema"
	"nsprovider/internal/storeerr"
)

// Backend is implemented once per storage engine (sqlmig for SQLite and
// MySQL, boltmig for bbolt) so engine.Run can stay backend-agnostic.
type Backend interface {
	ReadSchemaVersion(ctx context.Context) (version int, found bool, err error)
	WriteSchemaVersion(ctx context.Context, version int) error

	ReadAllIndexMetadata(ctx context.Context) (map[string]schema.IndexMetadata, error)
	WriteIndexMetadata(ctx context.Context, meta schema.IndexMetadata) error
	DeleteIndexMetadata(ctx context.Context, key string) error

	// ListStoreNames returns the base store names currently persisted
	// (base tables/buckets only, not side tables, not metadata).
	ListStoreNames(ctx context.Context) ([]string, error)
	StoreExists(ctx context.Context, name string) (bool, error)

	// StoreShapeDrifted reports whether the physical table/bucket for
	// store differs from what the declared schema requires: its base
	// layout (SQL DDL text comparison) or, for both backends, any of its
	// indexes failing to match their persisted IndexMetadata.
	StoreShapeDrifted(ctx context.Context, store schema.StoreSchema, persisted map[string]schema.IndexMetadata) (bool, error)

	// DropStore removes a store's base table/bucket and every side
	// table/bucket backing its indexes. It is also used to drop stores
	// that are no longer declared at all.
	DropStore(ctx context.Context, name string) error

	// CreateStore creates a store's base table/bucket and every side
	// table/bucket its indexes require, with no data, and writes fresh
	// IndexMetadata rows for each of its indexes.
	CreateStore(ctx context.Context, store schema.StoreSchema) error

	// ReadAllItems streams every item currently persisted in a store,
	// used only while rebuilding a drifted store to preserve its data.
	ReadAllItems(ctx context.Context, storeName string) ([]map[string]any, error)
}

// ReinsertFunc re-populates a rebuilt store's base row and every index
// (including multi-entry and full-text side rows) for each item, using
// the same code path a live Put call would use. The migration engine
// itself only moves table/bucket shape around; internal/store supplies
// this callback so item re-insertion stays in one place.
type ReinsertFunc func(ctx context.Context, storeName string, items []map[string]any) error

// Run reconciles persisted state against declared, per the algorithm in
// the package doc. wipeIfExists forces every non-metadata table/bucket to
// be dropped and recreated regardless of drift, used when the caller asks
// for a clean slate or when a newer persisted version is detected.
func Run(ctx context.Context, declared schema.Schema, backend Backend, wipeIfExists bool, reinsert ReinsertFunc) error {
	vOld, found, err := backend.ReadSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read schema version: %w", err)
	}

	if found && vOld > declared.Version {
		if !wipeIfExists {
			return fmt.Errorf("%w: persisted version %d > declared version %d", storeerr.ErrVersionTooNew, vOld, declared.Version)
		}
	}

	wipe := wipeIfExists
	if !wipe && declared.LastUsableVersion != nil && vOld < *declared.LastUsableVersion {
		wipe = true
	}

	existing, err := backend.ListStoreNames(ctx)
	if err != nil {
		return fmt.Errorf("migrate: list stores: %w", err)
	}
	declaredNames := make(map[string]struct{}, len(declared.Stores))
	for _, st := range declared.Stores {
		declaredNames[st.Name] = struct{}{}
	}

	if wipe {
		for _, name := range existing {
			if err := backend.DropStore(ctx, name); err != nil {
				return fmt.Errorf("migrate: wipe store %q: %w", name, err)
			}
		}
		if err := dropAllIndexMetadata(ctx, backend); err != nil {
			return err
		}
		existing = nil
	} else {
		// Drop stores (and their side tables/metadata) that are no
		// longer declared. Side tables and metadata left behind by an
		// index removed from a still-declared store are handled below:
		// that store counts as drifted and is rebuilt.
		for _, name := range existing {
			if _, keep := declaredNames[name]; keep {
				continue
			}
			if err := backend.DropStore(ctx, name); err != nil {
				return fmt.Errorf("migrate: drop undeclared store %q: %w", name, err)
			}
			if err := dropStoreIndexMetadata(ctx, backend, name); err != nil {
				return err
			}
		}
	}

	persistedMeta, err := backend.ReadAllIndexMetadata(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read index metadata: %w", err)
	}

	for _, store := range declared.Stores {
		exists, err := backend.StoreExists(ctx, store.Name)
		if err != nil {
			return fmt.Errorf("migrate: check store %q: %w", store.Name, err)
		}

		if !exists {
			if err := backend.CreateStore(ctx, store); err != nil {
				return fmt.Errorf("migrate: create store %q: %w", store.Name, err)
			}
			continue
		}

		drifted, err := backend.StoreShapeDrifted(ctx, store, persistedMeta)
		if err != nil {
			return fmt.Errorf("migrate: check drift for store %q: %w", store.Name, err)
		}
		for _, m := range persistedMeta {
			if m.StoreName != store.Name {
				continue
			}
			if _, declared := store.FindIndex(m.IndexName); !declared {
				drifted = true
			}
		}
		if !drifted {
			continue
		}

		if err := rebuildStore(ctx, backend, store, reinsert); err != nil {
			return fmt.Errorf("migrate: rebuild store %q: %w", store.Name, err)
		}
	}

	if err := backend.WriteSchemaVersion(ctx, declared.Version); err != nil {
		return fmt.Errorf("migrate: write schema version: %w", err)
	}
	return nil
}

// rebuildStore preserves a drifted store's data by reading every item out
// under the old shape, dropping and recreating the store under the new
// shape, then re-inserting the items through the normal Put path so every
// index (including multi-entry and full-text side rows) is repopulated
// consistently with live writes.
func rebuildStore(ctx context.Context, backend Backend, store schema.StoreSchema, reinsert ReinsertFunc) error {
	items, err := backend.ReadAllItems(ctx, store.Name)
	if err != nil {
		return fmt.Errorf("read existing items: %w", err)
	}

	if err := backend.DropStore(ctx, store.Name); err != nil {
		return fmt.Errorf("drop drifted store: %w", err)
	}
	if err := dropStoreIndexMetadata(ctx, backend, store.Name); err != nil {
		return err
	}
	if err := backend.CreateStore(ctx, store); err != nil {
		return fmt.Errorf("recreate store: %w", err)
	}

	if len(items) == 0 {
		return nil
	}
	if err := reinsert(ctx, store.Name, items); err != nil {
		return fmt.Errorf("reinsert %d preserved item(s): %w", len(items), err)
	}
	return nil
}

func dropAllIndexMetadata(ctx context.Context, backend Backend) error {
	meta, err := backend.ReadAllIndexMetadata(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read index metadata for wipe: %w", err)
	}
	for key := range meta {
		if err := backend.DeleteIndexMetadata(ctx, key); err != nil {
			return fmt.Errorf("migrate: delete index metadata %q: %w", key, err)
		}
	}
	return nil
}

func dropStoreIndexMetadata(ctx context.Context, backend Backend, storeName string) error {
	meta, err := backend.ReadAllIndexMetadata(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read index metadata for store %q: %w", storeName, err)
	}
	for key, m := range meta {
		if m.StoreName != storeName {
			continue
		}
		if err := backend.DeleteIndexMetadata(ctx, key); err != nil {
			return fmt.Errorf("migrate: delete index metadata %q: %w", key, err)
		}
	}
	return nil
}
