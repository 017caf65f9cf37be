package fulltext

import (
	"bytes"
	"fmt"

	"nsprovider/internal/driver"
	"nsprovider/internal/fts"
	"nsprovider/internal/storeerr"
)

// tokenSeparator joins a token and the primary key it annotates within one
// full-text index bucket key. 0x00 sorts before every printable token
// byte, so a cursor Seek(token) lands on the first key with that token as
// a prefix regardless of which primary key follows it.
const tokenSeparator = 0x00

// TokenBucketKey builds the bucket key RangeScanBoltSearch's term-prefix
// scan is built to find: a raw token followed by the primary key it
// belongs to. Put uses this to write one entry per token per item.
func TokenBucketKey(token, pk string) []byte {
	return append(append([]byte(token), tokenSeparator), pk...)
}

// RangeScanBoltSearch resolves phrase against a bucket holding
// TokenBucketKey entries, one per (token, primary key) pair. For each word
// it scans the half-open range [word, word⁺) — word⁺ increments the last
// rune's code point by one — so "cat" matches any key whose token prefix
// is "cat", including "category" and "cats". Per-word hit sets are merged
// via internal/fts.Combine.
func RangeScanBoltSearch(bucket driver.Bucket, phrase string, resolution Resolution, limit *int) ([]string, error) {
	words := fts.Words(phrase)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: full-text phrase has no indexable words", storeerr.ErrInvalidArgument)
	}

	hitSets := make([][]string, len(words))
	for i, w := range words {
		hitSets[i] = scanTermRange(bucket, w)
	}

	merged := fts.Combine(hitSets, resolution)
	if limit != nil && len(merged) > *limit {
		merged = merged[:*limit]
	}
	return merged, nil
}

// scanTermRange returns the ordered, deduplicated list of primary keys
// whose token has term as a prefix. Distinct tokens sharing that prefix
// (e.g. "cat" and "category") can each contribute a TokenBucketKey entry
// for the same primary key, so a seen-set guards against handing
// fts.Combine a hitSet with repeated entries.
func scanTermRange(bucket driver.Bucket, term string) []string {
	lo := []byte(term)
	hi := incrementLastRune(term)

	var pks []string
	seen := make(map[string]struct{})
	c := bucket.Cursor()
	for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
		if hi != nil && bytes.Compare(k, hi) >= 0 {
			break
		}
		pk := string(v)
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		pks = append(pks, pk)
	}
	return pks
}

// incrementLastRune returns the smallest byte string that is strictly
// greater than every key with s as a prefix, by incrementing s's final
// rune's code point. Returns nil for an empty term (no upper bound).
func incrementLastRune(s string) []byte {
	r := []rune(s)
	if len(r) == 0 {
		return nil
	}
	r[len(r)-1]++
	return []byte(string(r))
}
