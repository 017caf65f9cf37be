package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nsprovider"
	"nsprovider/internal/fts"
	"nsprovider/internal/schema"
	"nsprovider/internal/store/backendtest"
)

func widgetsSchema(version int) schema.Schema {
	return schema.Schema{
		Version: version,
		Stores: []schema.StoreSchema{
			{
				Name:           "widgets",
				PrimaryKeyPath: schema.Single("id"),
				Indexes: []schema.IndexSchema{
					{Name: "by_tag", KeyPath: schema.Single("tags"), MultiEntry: true},
					{Name: "by_rank", KeyPath: schema.Single("rank")},
					{Name: "by_body", KeyPath: schema.Single("body"), FullText: true},
				},
			},
		},
	}
}

func isolationSchema() schema.Schema {
	return schema.Schema{
		Version: 1,
		Stores: []schema.StoreSchema{
			{Name: "alpha", PrimaryKeyPath: schema.Single("id")},
			{Name: "beta", PrimaryKeyPath: schema.Single("id")},
		},
	}
}

// canonical round-trips item through JSON the same way Put/Get do, so
// comparisons don't trip over e.g. int vs float64 after decode.
func canonical(t *testing.T, item map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(item)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func putOne(t *testing.T, p *nsprovider.Provider, storeName string, item map[string]any) {
	t.Helper()
	ctx := context.Background()
	tx, err := p.BeginTx(ctx, []string{storeName}, true)
	require.NoError(t, err)
	s, err := tx.Store(storeName)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, item))
	require.NoError(t, tx.Commit())
}

func TestRoundTrip(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			item := map[string]any{"id": "w1", "rank": "03", "tags": []any{"red", "blue"}, "body": "quick brown fox"}
			putOne(t, p, "widgets", item)

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)

			got, ok, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, canonical(t, item), got)
			require.NoError(t, tx.Commit())
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			item := map[string]any{"id": "w1", "rank": "03", "tags": []any{"red", "blue"}, "body": "quick brown fox"}
			putOne(t, p, "widgets", item)
			putOne(t, p, "widgets", item)

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			idx, err := s.OpenIndex("by_tag")
			require.NoError(t, err)

			items, err := idx.GetOnly(ctx, "red", nil, nil)
			require.NoError(t, err)
			require.Len(t, items, 1, "a repeated put must not duplicate the side-index row")
			require.NoError(t, tx.Commit())
		})
	}
}

func TestRemovePurgesIndexEntries(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			putOne(t, p, "widgets", map[string]any{"id": "w1", "rank": "01", "tags": []any{"red"}, "body": "alpha"})

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, true)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			require.NoError(t, s.Remove(ctx, "w1"))
			require.NoError(t, tx.Commit())

			tx2, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s2, err := tx2.Store("widgets")
			require.NoError(t, err)
			idx, err := s2.OpenIndex("by_tag")
			require.NoError(t, err)
			items, err := idx.GetOnly(ctx, "red", nil, nil)
			require.NoError(t, err)
			require.Empty(t, items, "removing the item must purge its multi-entry index rows too")
			require.NoError(t, tx2.Commit())
		})
	}
}

func TestRangeClosure(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			for _, rank := range []string{"01", "02", "03", "04", "05"} {
				putOne(t, p, "widgets", map[string]any{"id": "w" + rank, "rank": rank, "tags": []any{}, "body": "x"})
			}

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			idx, err := s.OpenIndex("by_rank")
			require.NoError(t, err)

			inclusive, err := idx.GetRange(ctx, "02", "04", false, false, false, nil, nil)
			require.NoError(t, err)
			require.Len(t, inclusive, 3)

			exclusive, err := idx.GetRange(ctx, "02", "04", true, true, false, nil, nil)
			require.NoError(t, err)
			require.Len(t, exclusive, 1)

			require.NoError(t, tx.Commit())
		})
	}
}

func TestFullTextAndIsSubsetOfOr(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			putOne(t, p, "widgets", map[string]any{"id": "w1", "rank": "01", "tags": []any{}, "body": "quick brown fox"})
			putOne(t, p, "widgets", map[string]any{"id": "w2", "rank": "02", "tags": []any{}, "body": "lazy brown dog"})

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			idx, err := s.OpenIndex("by_body")
			require.NoError(t, err)

			and, err := idx.FullTextSearch(ctx, "brown fox", fts.ResolutionAnd, nil)
			require.NoError(t, err)
			or, err := idx.FullTextSearch(ctx, "brown fox", fts.ResolutionOr, nil)
			require.NoError(t, err)

			andIDs := ids(and)
			orIDs := ids(or)
			for _, id := range andIDs {
				require.Contains(t, orIDs, id)
			}
			require.ElementsMatch(t, []string{"w1"}, andIDs)
			require.ElementsMatch(t, []string{"w1", "w2"}, orIDs)

			require.NoError(t, tx.Commit())
		})
	}
}

func TestFullTextPrefixMatch(t *testing.T) {
	for _, f := range backendtest.All(t) {
		if f.Name == "mysql" {
			// The LIKE fallback matches whole sentinel-delimited tokens
			// only; it has no prefix-matching mode the way FTS5 and the
			// bbolt range scan do.
			continue
		}
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, widgetsSchema(1), false)
			putOne(t, p, "widgets", map[string]any{"id": "w1", "rank": "01", "tags": []any{}, "body": "category listing"})

			ctx := context.Background()
			tx, err := p.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			idx, err := s.OpenIndex("by_body")
			require.NoError(t, err)

			got, err := idx.FullTextSearch(ctx, "cat", fts.ResolutionOr, nil)
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"w1"}, ids(got))
			require.NoError(t, tx.Commit())
		})
	}
}

func ids(items []map[string]any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it["id"].(string))
	}
	return out
}

func TestMigrationIsIdempotent(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			path := f.Path(t)
			p1 := backendtest.OpenAt(t, f, path, widgetsSchema(1), false)
			putOne(t, p1, "widgets", map[string]any{"id": "w1", "rank": "01", "tags": []any{}, "body": "x"})
			require.NoError(t, p1.Close(context.Background()))

			p2 := backendtest.OpenAt(t, f, path, widgetsSchema(1), false)
			ctx := context.Background()
			tx, err := p2.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			_, ok, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			require.True(t, ok, "reopening with an unchanged schema must not touch persisted data")
			require.NoError(t, tx.Commit())
		})
	}
}

func TestWipeOnDowngradeRequiresWipeIfExists(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			path := f.Path(t)
			p1 := backendtest.OpenAt(t, f, path, widgetsSchema(2), false)
			putOne(t, p1, "widgets", map[string]any{"id": "w1", "rank": "01", "tags": []any{}, "body": "x"})
			require.NoError(t, p1.Close(context.Background()))

			_, err := nsprovider.Open(context.Background(), nsprovider.Config{
				Backend: f.Backend,
				Path:    path,
				Schema:  widgetsSchema(1),
			})
			require.Error(t, err)
			require.True(t, errors.Is(err, nsprovider.ErrVersionTooNew))

			p2 := backendtest.OpenAt(t, f, path, widgetsSchema(1), true)
			ctx := context.Background()
			tx, err := p2.BeginTx(ctx, []string{"widgets"}, false)
			require.NoError(t, err)
			s, err := tx.Store("widgets")
			require.NoError(t, err)
			_, ok, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			require.False(t, ok, "WipeIfExists on a downgrade must drop prior data")
			require.NoError(t, tx.Commit())
		})
	}
}

func TestTransactionIsolation(t *testing.T) {
	for _, f := range backendtest.All(t) {
		t.Run(f.Name, func(t *testing.T) {
			p := backendtest.Open(t, f, isolationSchema(), false)
			ctx := context.Background()

			writer, err := p.BeginTx(ctx, []string{"alpha"}, true)
			require.NoError(t, err)

			// A second writer over the same store must block until the
			// first one resolves: bound its wait with a short deadline
			// and expect it to expire.
			blockedCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
			defer cancel()
			_, err = p.BeginTx(blockedCtx, []string{"alpha"}, true)
			require.ErrorIs(t, err, context.DeadlineExceeded)

			// A reader over a disjoint store must be admitted immediately,
			// since store sets don't overlap.
			reader, err := p.BeginTx(ctx, []string{"beta"}, false)
			require.NoError(t, err)
			require.NoError(t, reader.Commit())

			require.NoError(t, writer.Commit())
		})
	}
}
