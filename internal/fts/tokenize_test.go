package fts

import (
	"errors"
	"reflect"
	"testing"

	"nsprovider/internal/storeerr"
)

func TestNormalizeLowercasesAndStripsDiacritics(t *testing.T) {
	got := Normalize("Café RESUME")
	want := "cafe resume"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestWordsDedupesPreservingOrder(t *testing.T) {
	got := Words("the quick brown fox the lazy Fox")
	want := []string{"the", "quick", "brown", "fox", "lazy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Words = %v, want %v", got, want)
	}
}

func TestWordsSplitsOnPunctuation(t *testing.T) {
	got := Words("hello, world! it's 2026")
	want := []string{"hello", "world", "it", "s", "2026"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Words = %v, want %v", got, want)
	}
}

func TestParseResolutionDefaultsToOr(t *testing.T) {
	mode, err := ParseResolution("")
	if err != nil {
		t.Fatal(err)
	}
	if mode != ResolutionOr {
		t.Fatalf("ParseResolution(\"\") = %v, want ResolutionOr", mode)
	}
}

func TestParseResolutionCaseInsensitive(t *testing.T) {
	mode, err := ParseResolution("AND")
	if err != nil {
		t.Fatal(err)
	}
	if mode != ResolutionAnd {
		t.Fatalf("ParseResolution(\"AND\") = %v, want ResolutionAnd", mode)
	}
}

func TestParseResolutionUnknown(t *testing.T) {
	_, err := ParseResolution("xor")
	if !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCombineOrIsUnionPreservingFirstSeenOrder(t *testing.T) {
	got := Combine([][]string{{"a", "b"}, {"c", "a"}}, ResolutionOr)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Combine(or) = %v, want %v", got, want)
	}
}

func TestCombineAndIsIntersection(t *testing.T) {
	got := Combine([][]string{{"a", "b", "c"}, {"b", "c", "d"}}, ResolutionAnd)
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Combine(and) = %v, want %v", got, want)
	}
}

func TestCombineAndAcrossThreeSets(t *testing.T) {
	got := Combine([][]string{{"a", "b"}, {"a", "c"}, {"a", "d"}}, ResolutionAnd)
	want := []string{"a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Combine(and) = %v, want %v", got, want)
	}
}

// Property: the AND resolution set is always a subset of the OR resolution
// set for the same hit sets.
func TestCombineAndIsSubsetOfOr(t *testing.T) {
	hitSets := [][]string{{"a", "b", "x"}, {"b", "c"}, {"b", "d", "x"}}
	and := Combine(hitSets, ResolutionAnd)
	or := Combine(hitSets, ResolutionOr)

	orSet := make(map[string]struct{}, len(or))
	for _, k := range or {
		orSet[k] = struct{}{}
	}
	for _, k := range and {
		if _, ok := orSet[k]; !ok {
			t.Fatalf("AND result %q not present in OR result %v", k, or)
		}
	}
}

func TestCombineEmpty(t *testing.T) {
	if got := Combine(nil, ResolutionOr); got != nil {
		t.Fatalf("Combine(nil) = %v, want nil", got)
	}
}
