package sqlmig

import (
	"context"
	"encoding/json"
	"fmt"

	"nsprovider/internal/driver"
	"nsprovider/internal/schema"
)

// metadataTable is the name of the per-database key/value table holding
// the schema version row and one JSON IndexMetadata row per index.
const metadataTable = "nsp_metadata"

const schemaVersionKey = "__schemaVersion__"

// Backend implements migrate.Backend over a SQL connection or
// transaction, parameterized by Dialect for the handful of places SQLite
// and MySQL diverge.
type Backend struct {
	Exec   driver.SQLExecutor
	Dialect Dialect
	Caps   driver.Capabilities
}

// EnsureMetadataTable creates the metadata table if it is missing. It
// must run before any other Backend method; Open calls it once per
// transaction before invoking migrate.Run.
func (b *Backend) EnsureMetadataTable(ctx context.Context) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s TEXT)",
		b.Dialect.QuoteIdent(metadataTable),
		b.Dialect.QuoteIdent("nsp_key"),
		b.Dialect.QuoteIdent("nsp_value"),
	)
	_, err := b.Exec.ExecContext(ctx, stmt)
	return err
}

func (b *Backend) ReadSchemaVersion(ctx context.Context) (int, bool, error) {
	row := b.Exec.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		b.Dialect.QuoteIdent("nsp_value"), b.Dialect.QuoteIdent(metadataTable), b.Dialect.QuoteIdent("nsp_key"),
	), schemaVersionKey)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var version int
	if err := json.Unmarshal([]byte(raw), &version); err != nil {
		return 0, false, fmt.Errorf("sqlmig: decode schema version: %w", err)
	}
	return version, true, nil
}

func (b *Backend) WriteSchemaVersion(ctx context.Context, version int) error {
	raw, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return b.upsertMetadataRow(ctx, schemaVersionKey, string(raw))
}

func (b *Backend) ReadAllIndexMetadata(ctx context.Context) (map[string]schema.IndexMetadata, error) {
	rows, err := b.Exec.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, %s FROM %s",
		b.Dialect.QuoteIdent("nsp_key"), b.Dialect.QuoteIdent("nsp_value"), b.Dialect.QuoteIdent(metadataTable),
	))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]schema.IndexMetadata)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if key == schemaVersionKey {
			continue
		}
		var meta schema.IndexMetadata
		if err := json.Unmarshal([]byte(value), &meta); err != nil {
			continue // a row this backend didn't write; ignore it
		}
		out[key] = meta
	}
	return out, rows.Err()
}

func (b *Backend) WriteIndexMetadata(ctx context.Context, meta schema.IndexMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return b.upsertMetadataRow(ctx, meta.Key, string(raw))
}

func (b *Backend) DeleteIndexMetadata(ctx context.Context, key string) error {
	_, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(metadataTable), b.Dialect.QuoteIdent("nsp_key"),
	), key)
	return err
}

func (b *Backend) upsertMetadataRow(ctx context.Context, key, value string) error {
	if b.Dialect.Name() == "mysql" {
		_, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s, %s) VALUES (?, ?) ON DUPLICATE KEY UPDATE %s = VALUES(%s)",
			b.Dialect.QuoteIdent(metadataTable),
			b.Dialect.QuoteIdent("nsp_key"), b.Dialect.QuoteIdent("nsp_value"),
			b.Dialect.QuoteIdent("nsp_value"), b.Dialect.QuoteIdent("nsp_value"),
		), key, value)
		return err
	}
	_, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s, %s) VALUES (?, ?)",
		b.Dialect.QuoteIdent(metadataTable), b.Dialect.QuoteIdent("nsp_key"), b.Dialect.QuoteIdent("nsp_value"),
	), key, value)
	return err
}

func (b *Backend) ListStoreNames(ctx context.Context) ([]string, error) {
	all, err := b.Dialect.ListBaseTables(ctx, b.Exec)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, name := range all {
		if name == metadataTable || isSideTableName(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// isSideTableName recognizes the "<store>__<index>" naming convention
// SideTableName produces, so ListStoreNames doesn't report a multi-entry
// index's side table as if it were its own store.
func isSideTableName(name string) bool {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '_' && name[i+1] == '_' {
			return true
		}
	}
	return false
}

func (b *Backend) StoreExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := b.Dialect.ShowCreateTable(ctx, b.Exec, name)
	return ok, err
}

func (b *Backend) StoreShapeDrifted(ctx context.Context, store schema.StoreSchema, persisted map[string]schema.IndexMetadata) (bool, error) {
	createSQL, ok, err := b.Dialect.ShowCreateTable(ctx, b.Exec, store.Name)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if !DDLMatches(b.Dialect, createSQL, store, b.Caps) {
		return true, nil
	}

	for _, idx := range store.Indexes {
		meta, ok := persisted[schema.MetadataKey(store.Name, idx.Name)]
		if !ok || !meta.Matches(store.Name, idx) {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) DropStore(ctx context.Context, name string) error {
	if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", b.Dialect.QuoteIdent(name))); err != nil {
		return err
	}
	// Drop any side tables following the "<store>__<index>" convention;
	// harmless no-ops when none exist.
	rows, err := b.Dialect.ListBaseTables(ctx, b.Exec)
	if err != nil {
		return err
	}
	prefix := name + "__"
	for _, t := range rows {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", b.Dialect.QuoteIdent(t))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) CreateStore(ctx context.Context, store schema.StoreSchema) error {
	for _, stmt := range CreateStoreStatements(b.Dialect, store, b.Caps) {
		if _, err := b.Exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	for _, idx := range store.Indexes {
		if err := b.WriteIndexMetadata(ctx, schema.ToMetadata(store.Name, idx)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ReadAllItems(ctx context.Context, storeName string) ([]map[string]any, error) {
	rows, err := b.Exec.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s", b.Dialect.QuoteIdent(ColData), b.Dialect.QuoteIdent(storeName),
	))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item map[string]any
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("decode item in store %q: %w", storeName, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
