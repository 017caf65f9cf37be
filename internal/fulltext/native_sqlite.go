package fulltext

import (
	"context"
	"fmt"
	"strings"

	"nsprovider/internal/driver"
	"nsprovider/internal/fts"
	"nsprovider/internal/storeerr"
)

// NativeSQLiteSearch resolves phrase against a FTS5 virtual table, one row
// per primary key. And issues a single MATCH query with every term
// prefix-suffixed ("*"); Or unions one prefix-MATCH subquery per term and
// DISTINCTs the primary keys. Parentheses are stripped from terms first:
// FTS5's query-expression parser treats bare parens as grouping and aborts
// on unbalanced input.
func NativeSQLiteSearch(ctx context.Context, exec driver.SQLExecutor, ftsTable, pkCol string, phrase string, resolution Resolution, limit *int) ([]string, error) {
	words := fts.Words(phrase)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: full-text phrase has no indexable words", storeerr.ErrInvalidArgument)
	}

	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = stripParens(w) + "*"
	}

	var query string
	var args []any
	if resolution == And {
		query = fmt.Sprintf("SELECT %s FROM %s WHERE %s MATCH ? ORDER BY rank", pkCol, ftsTable, ftsTable)
		args = []any{strings.Join(terms, " ")}
	} else {
		unions := make([]string, len(terms))
		for i, t := range terms {
			unions[i] = fmt.Sprintf("SELECT %s FROM %s WHERE %s MATCH ?", pkCol, ftsTable, ftsTable)
			args = append(args, t)
		}
		query = fmt.Sprintf("SELECT DISTINCT %s FROM (%s) AS nsp_fts_union", pkCol, strings.Join(unions, " UNION ALL "))
	}
	if limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *limit)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
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

func stripParens(s string) string {
	return strings.NewReplacer("(", "", ")", "").Replace(s)
}
