// Package sqlstore implements store.Backend over the SQL drivers
// (SQLite, MySQL), using the same column/table naming internal/migrate's
// sqlmig package establishes when it created the store, so a Backend here
// never has to re-derive shape the migration engine already committed to.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nsprovider/internal/driver"
	"nsprovider/internal/fulltext"
	"nsprovider/internal/migrate/sqlmig"
	"nsprovider/internal/schema"
	"nsprovider/internal/store"
)

// Backend implements store.Backend over a SQL connection or transaction.
type Backend struct {
	Exec    driver.SQLExecutor
	Dialect sqlmig.Dialect
	Caps    driver.Capabilities
}

func (b *Backend) Capabilities() driver.Capabilities { return b.Caps }

// maxLimitForOffset stands in for "no limit" when a caller wants an
// offset but no limit: SQLite accepts -1 for that, MySQL does not, but
// both accept (and MySQL's OFFSET syntax requires) a concrete large one.
const maxLimitForOffset = 1 << 32

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (b *Backend) GetItem(ctx context.Context, storeName, pk string) ([]byte, bool, error) {
	row := b.Exec.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		b.Dialect.QuoteIdent(sqlmig.ColData), b.Dialect.QuoteIdent(storeName), b.Dialect.QuoteIdent(sqlmig.ColPrimaryKey),
	), pk)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(raw), true, nil
}

func (b *Backend) GetItems(ctx context.Context, storeName string, pks []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(pks))
	if len(pks) == 0 {
		return out, nil
	}

	chunkSize := len(pks)
	if max := b.Caps.MaxVariablesPerStatement; max > 0 && max < chunkSize {
		chunkSize = max
	}

	for start := 0; start < len(pks); start += chunkSize {
		end := start + chunkSize
		if end > len(pks) {
			end = len(pks)
		}
		batch := pks[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		query := fmt.Sprintf(
			"SELECT %s, %s FROM %s WHERE %s IN (%s)",
			b.Dialect.QuoteIdent(sqlmig.ColPrimaryKey), b.Dialect.QuoteIdent(sqlmig.ColData),
			b.Dialect.QuoteIdent(storeName), b.Dialect.QuoteIdent(sqlmig.ColPrimaryKey), placeholders,
		)
		args := make([]any, len(batch))
		for i, pk := range batch {
			args[i] = pk
		}

		rows, err := b.Exec.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var pk, data string
			if err := rows.Scan(&pk, &data); err != nil {
				rows.Close()
				return nil, err
			}
			out[pk] = []byte(data)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// PutItems upserts the base row for every item in one or more batched,
// multi-row INSERT statements (chunked to the dialect's per-statement
// variable cap), then replaces each item's side-table and FTS rows. The
// side/FTS work stays per item: a multi-entry index can contribute a
// different number of rows per item, so there's no fixed column shape to
// batch it against the way the base row's columns (fixed by st.Indexes)
// allow.
func (b *Backend) PutItems(ctx context.Context, st schema.StoreSchema, items []store.PreparedItem) error {
	if len(items) == 0 {
		return nil
	}

	cols, rows := baseRows(st, items)
	if err := b.upsertRows(ctx, st.Name, sqlmig.ColPrimaryKey, cols, rows); err != nil {
		return fmt.Errorf("batch upsert %d item(s): %w", len(items), err)
	}

	for _, item := range items {
		if err := b.putSideAndFTS(ctx, st, item); err != nil {
			return fmt.Errorf("put %q: %w", item.PK, err)
		}
	}
	return nil
}

// baseRows computes the base-table column list and one value tuple per
// item. The column set is the same for every item in st (it's derived
// from st.Indexes, not from any one item's data), which is what makes
// batching the base-row upsert across items possible.
func baseRows(st schema.StoreSchema, items []store.PreparedItem) ([]string, [][]any) {
	cols := []string{sqlmig.ColPrimaryKey, sqlmig.ColData}
	for _, idx := range st.Indexes {
		if idx.MultiEntry {
			continue
		}
		cols = append(cols, sqlmig.IndexColumn(idx.Name))
	}

	rows := make([][]any, len(items))
	for i, item := range items {
		vals := []any{item.PK, string(item.Data)}
		for _, idx := range st.Indexes {
			if idx.MultiEntry {
				continue
			}
			entry, ok := item.Indexes[idx.Name]
			var colVal any
			if ok {
				if idx.FullText {
					colVal = fulltext.EncodeTokenColumn(entry.Tokens)
				} else {
					colVal = entry.Values[0]
				}
			}
			vals = append(vals, colVal)
		}
		rows[i] = vals
	}
	return cols, rows
}

func (b *Backend) putSideAndFTS(ctx context.Context, st schema.StoreSchema, item store.PreparedItem) error {
	for _, idx := range st.Indexes {
		if !idx.MultiEntry {
			continue
		}
		if err := b.replaceSideRows(ctx, st.Name, idx, item); err != nil {
			return err
		}
	}

	if b.Caps.SupportsNativeFTS {
		for _, idx := range st.Indexes {
			if !idx.FullText {
				continue
			}
			if err := b.replaceFTSRow(ctx, st.Name, idx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// upsertRows issues one or more multi-row INSERT ... VALUES (...),(...)
// statements covering rows, chunked so no single statement exceeds the
// dialect's MaxVariablesPerStatement, the same cap GetItems already
// respects when chunking its IN (...) batches.
func (b *Backend) upsertRows(ctx context.Context, table, pkCol string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	rowsPerStmt := len(rows)
	if max := b.Caps.MaxVariablesPerStatement; max > 0 {
		if perRow := max / len(cols); perRow > 0 {
			if perRow < rowsPerStmt {
				rowsPerStmt = perRow
			}
		} else {
			rowsPerStmt = 1
		}
	}

	for start := 0; start < len(rows); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > len(rows) {
			end = len(rows)
		}
		if err := b.upsertChunk(ctx, table, pkCol, cols, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) upsertChunk(ctx context.Context, table, pkCol string, cols []string, rows [][]any) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = b.Dialect.QuoteIdent(c)
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"

	valueGroups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		valueGroups[i] = rowPlaceholder
		args = append(args, row...)
	}

	if b.Dialect.Name() == "mysql" {
		updates := make([]string, 0, len(cols))
		for _, c := range cols {
			if c == pkCol {
				continue
			}
			q := b.Dialect.QuoteIdent(c)
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
		}
		query := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
			b.Dialect.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(valueGroups, ", "), strings.Join(updates, ", "),
		)
		_, err := b.Exec.ExecContext(ctx, query, args...)
		return err
	}

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES %s",
		b.Dialect.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(valueGroups, ", "),
	)
	_, err := b.Exec.ExecContext(ctx, query, args...)
	return err
}

func (b *Backend) replaceSideRows(ctx context.Context, storeName string, idx schema.IndexSchema, item store.PreparedItem) error {
	sideTable := sqlmig.SideTableName(storeName, idx.Name)
	if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(sideTable), b.Dialect.QuoteIdent(sqlmig.SideColRefPK),
	), item.PK); err != nil {
		return err
	}

	entry, ok := item.Indexes[idx.Name]
	if !ok {
		return nil
	}
	for _, v := range entry.Values {
		cols := []string{sqlmig.SideColKey, sqlmig.SideColRefPK}
		vals := []any{v, item.PK}
		if idx.IncludeDataInIndex {
			cols = append(cols, sqlmig.SideColData)
			vals = append(vals, string(item.Data))
		}
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = b.Dialect.QuoteIdent(c)
			placeholders[i] = "?"
		}
		query := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			b.Dialect.QuoteIdent(sideTable), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
		)
		if _, err := b.Exec.ExecContext(ctx, query, vals...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) replaceFTSRow(ctx context.Context, storeName string, idx schema.IndexSchema, item store.PreparedItem) error {
	ftsTable := sqlmig.FTSTableName(storeName, idx.Name)
	if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(ftsTable), b.Dialect.QuoteIdent(sqlmig.FTSColPK),
	), item.PK); err != nil {
		return err
	}

	entry, ok := item.Indexes[idx.Name]
	if !ok || len(entry.Tokens) == 0 {
		return nil
	}
	_, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, ?)",
		b.Dialect.QuoteIdent(ftsTable), b.Dialect.QuoteIdent(sqlmig.FTSColPK), b.Dialect.QuoteIdent(sqlmig.FTSColTokens),
	), item.PK, strings.Join(entry.Tokens, " "))
	return err
}

func (b *Backend) RemoveItems(ctx context.Context, st schema.StoreSchema, pks []string) error {
	for _, pk := range pks {
		for _, idx := range st.Indexes {
			if idx.MultiEntry {
				sideTable := sqlmig.SideTableName(st.Name, idx.Name)
				if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
					"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(sideTable), b.Dialect.QuoteIdent(sqlmig.SideColRefPK),
				), pk); err != nil {
					return err
				}
			}
			if idx.FullText && b.Caps.SupportsNativeFTS {
				ftsTable := sqlmig.FTSTableName(st.Name, idx.Name)
				if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
					"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(ftsTable), b.Dialect.QuoteIdent(sqlmig.FTSColPK),
				), pk); err != nil {
					return err
				}
			}
		}
		if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE %s = ?", b.Dialect.QuoteIdent(st.Name), b.Dialect.QuoteIdent(sqlmig.ColPrimaryKey),
		), pk); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ClearStore(ctx context.Context, st schema.StoreSchema) error {
	tables := []string{st.Name}
	for _, idx := range st.Indexes {
		if idx.MultiEntry {
			tables = append(tables, sqlmig.SideTableName(st.Name, idx.Name))
		}
		if idx.FullText && b.Caps.SupportsNativeFTS {
			tables = append(tables, sqlmig.FTSTableName(st.Name, idx.Name))
		}
	}
	for _, t := range tables {
		if _, err := b.Exec.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", b.Dialect.QuoteIdent(t))); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) IndexScan(ctx context.Context, st schema.StoreSchema, idx schema.IndexSchema, q store.IndexQuery) ([]string, error) {
	table, keyCol, pkCol := b.scanTarget(st, idx)

	var where []string
	var args []any
	switch {
	case q.Only != nil:
		where = append(where, fmt.Sprintf("%s = ?", b.Dialect.QuoteIdent(keyCol)))
		args = append(args, *q.Only)
	default:
		if q.Lo != nil {
			op := ">="
			if q.LoExcl {
				op = ">"
			}
			where = append(where, fmt.Sprintf("%s %s ?", b.Dialect.QuoteIdent(keyCol), op))
			args = append(args, *q.Lo)
		}
		if q.Hi != nil {
			op := "<="
			if q.HiExcl {
				op = "<"
			}
			where = append(where, fmt.Sprintf("%s %s ?", b.Dialect.QuoteIdent(keyCol), op))
			args = append(args, *q.Hi)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", b.Dialect.QuoteIdent(pkCol), b.Dialect.QuoteIdent(table))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	order := "ASC"
	if q.Reverse {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", b.Dialect.QuoteIdent(keyCol), order)
	if q.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *q.Limit)
		if q.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *q.Offset)
		}
	} else if q.Offset != nil {
		// Neither dialect accepts an OFFSET without a LIMIT; both accept
		// (and MySQL requires, for OFFSET) an enormous one in its place.
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", maxLimitForOffset, *q.Offset)
	}

	rows, err := b.Exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

// scanTarget returns the table, key column, and primary-key column a
// IndexScan should read from: the base table and its primary key column
// for the synthetic primary-key index (idx.Name == ""), the base table's
// own index column for a regular/unique index, or a multi-entry index's
// side table.
func (b *Backend) scanTarget(st schema.StoreSchema, idx schema.IndexSchema) (table, keyCol, pkCol string) {
	if idx.Name == "" {
		return st.Name, sqlmig.ColPrimaryKey, sqlmig.ColPrimaryKey
	}
	if idx.MultiEntry {
		return sqlmig.SideTableName(st.Name, idx.Name), sqlmig.SideColKey, sqlmig.SideColRefPK
	}
	return st.Name, sqlmig.IndexColumn(idx.Name), sqlmig.ColPrimaryKey
}

func (b *Backend) FullTextSearch(ctx context.Context, st schema.StoreSchema, idx schema.IndexSchema, phrase string, resolution fulltext.Resolution, limit *int) ([]string, error) {
	if b.Caps.SupportsNativeFTS {
		return fulltext.NativeSQLiteSearch(ctx, b.Exec, sqlmig.FTSTableName(st.Name, idx.Name), sqlmig.FTSColPK, phrase, resolution, limit)
	}
	return fulltext.LikeMySQLSearch(ctx, b.Exec, st.Name, sqlmig.IndexColumn(idx.Name), sqlmig.ColPrimaryKey, phrase, resolution, limit)
}
