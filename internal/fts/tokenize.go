// Package fts implements the shared phrase-normalization and tokenization
// rules used by every full-text backend (native FTS5, LIKE fallback, and
// bbolt range-scan fallback), so that "AND" and "OR" resolution behave
// identically regardless of which backend executes the scan.
package fts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"nsprovider/internal/storeerr"
)

// wordPattern splits a normalized phrase into words. Anything that is not
// a letter or digit is treated as a separator.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// diacriticStripper decomposes combined characters (NFD) and drops the
// resulting combining marks, so "café" and "cafe" tokenize identically.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lower-cases a phrase and strips diacritics, without touching
// word boundaries. It is the shared first step before Words or a backend's
// own matching (e.g. the LIKE fallback normalizes the stored index value
// and the query phrase with this exact function so they compare equal).
func Normalize(phrase string) string {
	out, _, err := transform.String(diacriticStripper, phrase)
	if err != nil {
		out = phrase
	}
	return strings.ToLower(out)
}

// Words splits a normalized phrase into its words, deduplicating while
// preserving first-occurrence order. Multiple backends need the same word
// list: native FTS5 MATCH syntax is built from it, the LIKE fallback scans
// for each word independently, and the bbolt fallback intersects/unions
// per-word hit sets.
func Words(phrase string) []string {
	normalized := Normalize(phrase)
	matches := wordPattern.FindAllString(normalized, -1)

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, w := range matches {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// ResolutionMode selects how a multi-word phrase's per-word hit sets are
// combined into a single result set.
type ResolutionMode int

const (
	// ResolutionAnd keeps only items that matched every word in the
	// phrase.
	ResolutionAnd ResolutionMode = iota
	// ResolutionOr keeps any item that matched at least one word.
	ResolutionOr
)

// ParseResolution maps the caller-facing string form ("and"/"or", case
// insensitive; empty defaults to "or") to a ResolutionMode.
func ParseResolution(s string) (ResolutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or":
		return ResolutionOr, nil
	case "and":
		return ResolutionAnd, nil
	default:
		return 0, fmt.Errorf("%w: unknown full-text resolution mode %q", storeerr.ErrInvalidArgument, s)
	}
}

// Combine merges per-word sets of matching primary keys according to mode.
// Each entry of hitSets is the ordered, deduplicated list of primary keys
// that matched one word of the phrase. The result preserves the relative
// order in which keys were first seen across hitSets.
func Combine(hitSets [][]string, mode ResolutionMode) []string {
	if len(hitSets) == 0 {
		return nil
	}

	count := make(map[string]int)
	order := make([]string, 0)
	for _, set := range hitSets {
		for _, key := range set {
			if count[key] == 0 {
				order = append(order, key)
			}
			count[key]++
		}
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		switch mode {
		case ResolutionAnd:
			if count[key] == len(hitSets) {
				out = append(out, key)
			}
		default: // ResolutionOr
			out = append(out, key)
		}
	}
	return out
}
