package fulltext

import (
	"context"
	"fmt"
	"strings"

	"nsprovider/internal/driver"
	"nsprovider/internal/fts"
	"nsprovider/internal/storeerr"
)

// LikeMySQLSearch resolves phrase against a plain TEXT column holding an
// EncodeTokenColumn value, one LIKE clause per word joined by AND/OR per
// resolution. Used when driver.Capabilities.SupportsNativeFTS is false.
func LikeMySQLSearch(ctx context.Context, exec driver.SQLExecutor, table, tokenCol, pkCol string, phrase string, resolution Resolution, limit *int) ([]string, error) {
	words := fts.Words(phrase)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: full-text phrase has no indexable words", storeerr.ErrInvalidArgument)
	}

	clauses := make([]string, len(words))
	args := make([]any, len(words))
	for i, w := range words {
		clauses[i] = fmt.Sprintf("%s LIKE ?", tokenCol)
		args[i] = "%" + Sentinel + w + Sentinel + "%"
	}

	joiner := " OR "
	if resolution == And {
		joiner = " AND "
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", pkCol, table, strings.Join(clauses, joiner))
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
