package sqlmig

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"nsprovider/internal/driver"
	"nsprovider/internal/schema"
)

// Column name prefixes, fixed across every store: one base table per
// store holds the primary key, the JSON payload, and one column per
// non-side-table index.
const (
	ColPrimaryKey = "nsp_pk"
	ColData       = "nsp_data"
	colIndexPrefix = "nsp_i_"

	// Side table columns, used only by multi-entry indexes (one row per
	// array element). A full-text index's token list is stored inline in
	// a colIndexPrefix column instead.
	SideColKey    = "nsp_key"
	SideColRefPK  = "nsp_refpk"
	SideColData   = "nsp_data"
)

// IndexColumn returns the base-table column name backing a non-side-table
// index.
func IndexColumn(indexName string) string { return colIndexPrefix + indexName }

// SideTableName returns the side table name backing a multi-entry index.
func SideTableName(storeName, indexName string) string {
	return storeName + "__" + indexName
}

// FTSTableName returns the FTS5 virtual table name backing a full-text
// index on a dialect with native FTS support. It shares the side table
// naming convention's double underscore so isSideTableName (really "is a
// supporting table, not a store") already excludes it from
// Backend.ListStoreNames without a second check.
func FTSTableName(storeName, indexName string) string {
	return storeName + "__fts__" + indexName
}

// FTSColPK and FTSColTokens are the two columns of a full-text index's
// FTS5 virtual table: the item's primary key (unindexed, carried only to
// join back to the base table) and the space-joined token list FTS5
// actually indexes.
const (
	FTSColPK     = "nsp_pk"
	FTSColTokens = "nsp_tokens"
)

// usesSideTable reports whether an index is backed by a separate side
// table (multi-entry) rather than a plain base-table column.
func usesSideTable(idx schema.IndexSchema) bool {
	return idx.MultiEntry
}

// CreateStoreStatements returns, in execution order, every DDL statement
// needed to create a store from scratch: the base table, one CREATE INDEX
// per column-backed index, and one side table (with its own index) per
// multi-entry index. A full-text index always gets a base-table column;
// when caps.SupportsNativeFTS is set, one FTS5 virtual table per
// full-text index is created as well.
func CreateStoreStatements(d Dialect, store schema.StoreSchema, caps driver.Capabilities) []string {
	var stmts []string

	cols := []string{
		fmt.Sprintf("%s TEXT PRIMARY KEY", d.QuoteIdent(ColPrimaryKey)),
		fmt.Sprintf("%s TEXT", d.QuoteIdent(ColData)),
	}
	for _, idx := range store.Indexes {
		if usesSideTable(idx) {
			continue
		}
		cols = append(cols, fmt.Sprintf("%s TEXT", d.QuoteIdent(IndexColumn(idx.Name))))
	}

	stmts = append(stmts, fmt.Sprintf(
		"CREATE TABLE %s (%s)%s",
		d.QuoteIdent(store.Name), strings.Join(cols, ", "), d.CreateTableSuffix(),
	))

	for _, idx := range store.Indexes {
		if usesSideTable(idx) {
			continue
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE %sINDEX %s ON %s (%s)",
			unique,
			d.QuoteIdent(store.Name+"_"+idx.Name+"_idx"),
			d.QuoteIdent(store.Name),
			indexedColumnExpr(d, IndexColumn(idx.Name)),
		))
	}

	for _, idx := range store.Indexes {
		if !usesSideTable(idx) {
			continue
		}
		sideTable := SideTableName(store.Name, idx.Name)
		sideCols := []string{
			fmt.Sprintf("%s TEXT", d.QuoteIdent(SideColKey)),
			fmt.Sprintf("%s TEXT", d.QuoteIdent(SideColRefPK)),
		}
		if idx.IncludeDataInIndex {
			sideCols = append(sideCols, fmt.Sprintf("%s TEXT", d.QuoteIdent(SideColData)))
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE %s (%s)%s",
			d.QuoteIdent(sideTable), strings.Join(sideCols, ", "), d.CreateTableSuffix(),
		))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX %s ON %s (%s)",
			d.QuoteIdent(sideTable+"_key_idx"),
			d.QuoteIdent(sideTable),
			indexedColumnExpr(d, SideColKey),
		))
	}

	if caps.SupportsNativeFTS {
		for _, idx := range store.Indexes {
			if !idx.FullText {
				continue
			}
			stmts = append(stmts, fmt.Sprintf(
				"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s UNINDEXED, %s)",
				d.QuoteIdent(FTSTableName(store.Name, idx.Name)),
				d.QuoteIdent(FTSColPK), d.QuoteIdent(FTSColTokens),
			))
		}
	}

	return stmts
}

// indexedColumnExpr quotes a column for use in an index definition,
// appending a dialect-specific prefix length when the dialect requires
// one for TEXT columns (MySQL/InnoDB).
func indexedColumnExpr(d Dialect, column string) string {
	if n := d.IndexKeyLength(); n > 0 {
		return fmt.Sprintf("%s(%d)", d.QuoteIdent(column), n)
	}
	return d.QuoteIdent(column)
}

// SideTableNames returns every side table name a store's indexes require.
func SideTableNames(store schema.StoreSchema) []string {
	var names []string
	for _, idx := range store.Indexes {
		if usesSideTable(idx) {
			names = append(names, SideTableName(store.Name, idx.Name))
		}
	}
	return names
}

// normalizeSQL parses a single SQL statement with the TiDB parser and
// re-renders it through format.Restore, so two CREATE TABLE statements
// that differ only in whitespace, quoting style, or clause order compare
// equal as plain strings. Statements the parser can't handle (a dialect
// quirk in a hand-rolled SHOW CREATE TABLE dump, for instance) fall back
// to a trimmed/lowercased comparison instead of failing the whole check.
func normalizeSQL(sql string) string {
	p := parser.New()
	nodes, _, err := p.Parse(sql, "", "")
	if err != nil || len(nodes) == 0 {
		return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
	}

	var sb strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)
	if err := nodes[0].Restore(ctx); err != nil {
		return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
	}
	return strings.Join(strings.Fields(strings.ToLower(sb.String())), " ")
}

// DDLMatches reports whether a persisted CREATE TABLE statement is
// textually equivalent, after normalization, to the canonical one this
// module would generate for store.
func DDLMatches(d Dialect, persisted string, store schema.StoreSchema, caps driver.Capabilities) bool {
	canonical := CreateStoreStatements(d, store, caps)[0]
	return normalizeSQL(persisted) == normalizeSQL(canonical)
}
