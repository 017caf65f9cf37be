package fulltext

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"nsprovider/internal/driver"
)

// fakeBucket is a minimal in-memory stand-in for a bbolt bucket: a sorted
// slice of key/value pairs with a cursor that seeks/advances the way
// RangeScanBoltSearch's prefix scan expects.
type fakeBucket struct {
	keys [][]byte
	vals [][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{}
}

func (b *fakeBucket) put(key, val []byte) {
	b.keys = append(b.keys, key)
	b.vals = append(b.vals, val)
	sort.Sort(bucketOrder{b})
}

type bucketOrder struct{ b *fakeBucket }

func (o bucketOrder) Len() int      { return len(o.b.keys) }
func (o bucketOrder) Swap(i, j int) {
	o.b.keys[i], o.b.keys[j] = o.b.keys[j], o.b.keys[i]
	o.b.vals[i], o.b.vals[j] = o.b.vals[j], o.b.vals[i]
}
func (o bucketOrder) Less(i, j int) bool { return bytes.Compare(o.b.keys[i], o.b.keys[j]) < 0 }

func (b *fakeBucket) Get(key []byte) []byte   { panic("unused") }
func (b *fakeBucket) Put(key, value []byte) error { panic("unused") }
func (b *fakeBucket) Delete(key []byte) error { panic("unused") }
func (b *fakeBucket) Cursor() driver.Cursor   { return &fakeCursor{b: b, i: -1} }

type fakeCursor struct {
	b *fakeBucket
	i int
}

func (c *fakeCursor) First() ([]byte, []byte) { c.i = 0; return c.at() }
func (c *fakeCursor) Last() ([]byte, []byte)  { c.i = len(c.b.keys) - 1; return c.at() }
func (c *fakeCursor) Next() ([]byte, []byte)  { c.i++; return c.at() }
func (c *fakeCursor) Prev() ([]byte, []byte)  { c.i--; return c.at() }

func (c *fakeCursor) Seek(prefix []byte) ([]byte, []byte) {
	c.i = sort.Search(len(c.b.keys), func(i int) bool {
		return bytes.Compare(c.b.keys[i], prefix) >= 0
	})
	return c.at()
}

func (c *fakeCursor) at() ([]byte, []byte) {
	if c.i < 0 || c.i >= len(c.b.keys) {
		return nil, nil
	}
	return c.b.keys[c.i], c.b.vals[c.i]
}

func sampleTokenBucket() *fakeBucket {
	b := newFakeBucket()
	put := func(token, pk string) { b.put(TokenBucketKey(token, pk), []byte(pk)) }
	for _, tok := range []string{"quick", "brown", "fox"} {
		put(tok, "1")
	}
	for _, tok := range []string{"lazy", "brown", "dog"} {
		put(tok, "2")
	}
	for _, tok := range []string{"category", "list"} {
		put(tok, "3")
	}
	return b
}

func TestRangeScanBoltSearchAndRequiresEveryTerm(t *testing.T) {
	pks, err := RangeScanBoltSearch(sampleTokenBucket(), "brown fox", And, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, pks)
}

func TestRangeScanBoltSearchOrIsSuperset(t *testing.T) {
	and, err := RangeScanBoltSearch(sampleTokenBucket(), "brown fox", And, nil)
	require.NoError(t, err)
	or, err := RangeScanBoltSearch(sampleTokenBucket(), "brown fox", Or, nil)
	require.NoError(t, err)

	for _, pk := range and {
		require.Contains(t, or, pk)
	}
	require.ElementsMatch(t, []string{"1", "2"}, or)
}

func TestRangeScanBoltSearchPrefixMatchesLongerToken(t *testing.T) {
	pks, err := RangeScanBoltSearch(sampleTokenBucket(), "cat", Or, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, pks)
}

func TestRangeScanBoltSearchRespectsLimit(t *testing.T) {
	limit := 1
	pks, err := RangeScanBoltSearch(sampleTokenBucket(), "brown", Or, &limit)
	require.NoError(t, err)
	require.Len(t, pks, 1)
}

func TestRangeScanBoltSearchRejectsEmptyPhrase(t *testing.T) {
	_, err := RangeScanBoltSearch(sampleTokenBucket(), "###", And, nil)
	require.Error(t, err)
}

func TestScanTermRangeDedupesSharedPrefixTokens(t *testing.T) {
	// "cat" and "category" both match a scan for "cat", and here they
	// annotate the same primary key: the scan must report pk "3" once,
	// not twice, or an AND query across several terms would overcount it.
	b := newFakeBucket()
	put := func(token, pk string) { b.put(TokenBucketKey(token, pk), []byte(pk)) }
	put("cat", "3")
	put("category", "3")

	pks := scanTermRange(b, "cat")
	require.Equal(t, []string{"3"}, pks)
}

func TestRangeScanBoltSearchAndToleratesSharedPrefixTokens(t *testing.T) {
	b := newFakeBucket()
	put := func(token, pk string) { b.put(TokenBucketKey(token, pk), []byte(pk)) }
	put("cat", "3")
	put("category", "3")
	put("dog", "3")

	pks, err := RangeScanBoltSearch(b, "cat dog", And, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, pks, "a duplicated per-term hit must not break AND resolution's exact-count match")
}

func TestIncrementLastRuneBoundsAsciiRange(t *testing.T) {
	hi := incrementLastRune("cat")
	require.True(t, bytes.Compare([]byte("cats"), hi) < 0)
	require.True(t, bytes.Compare([]byte("category"), hi) < 0)
	require.True(t, bytes.Compare([]byte("catz"), hi) < 0)
	require.True(t, bytes.Compare([]byte("cau"), hi) >= 0)
}
