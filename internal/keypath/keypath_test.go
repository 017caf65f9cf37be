package keypath

import (
	"testing"

	"nsprovider/internal/schema"
)

func TestExtractSingleLevel(t *testing.T) {
	item := map[string]any{"id": "abc"}
	v, ok := Extract(item, "id")
	if !ok || v != "abc" {
		t.Fatalf("Extract = %v, %v; want abc, true", v, ok)
	}
}

func TestExtractNested(t *testing.T) {
	item := map[string]any{
		"address": map[string]any{"city": "Seattle"},
	}
	v, ok := Extract(item, "address.city")
	if !ok || v != "Seattle" {
		t.Fatalf("Extract = %v, %v; want Seattle, true", v, ok)
	}
}

func TestExtractMissingSegment(t *testing.T) {
	item := map[string]any{"address": map[string]any{"city": "Seattle"}}
	if _, ok := Extract(item, "address.zip"); ok {
		t.Fatal("expected ok=false for missing segment")
	}
}

func TestExtractThroughNonObject(t *testing.T) {
	item := map[string]any{"id": "abc"}
	if _, ok := Extract(item, "id.nested"); ok {
		t.Fatal("expected ok=false when walking through a non-object value")
	}
}

func TestExtractKeyPathCompound(t *testing.T) {
	item := map[string]any{"a": "x", "b": "y"}
	kp := schema.Compound("a", "b")
	values, ok := ExtractKeyPath(item, kp)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(values) != 2 || values[0] != "x" || values[1] != "y" {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestSerializeSingleString(t *testing.T) {
	kp := schema.Single("id")
	s, err := Serialize("abc", kp)
	if err != nil {
		t.Fatal(err)
	}
	if s != "Sabc" {
		t.Fatalf("Serialize = %q, want %q", s, "Sabc")
	}
}

func TestSerializeCompoundOrdersAsTuple(t *testing.T) {
	kp := schema.Compound("a", "b")

	s1, err := Serialize([]any{"a", "bc"}, kp)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Serialize([]any{"ab", "c"}, kp)
	if err != nil {
		t.Fatal(err)
	}
	if !(s1 < s2) {
		t.Fatalf("expected %q < %q to match tuple order (a,bc) < (ab,c)", s1, s2)
	}
}

func TestSerializeCompoundWrongShape(t *testing.T) {
	kp := schema.Compound("a", "b")
	if _, err := Serialize([]any{"only-one"}, kp); err == nil {
		t.Fatal("expected error for wrong component count")
	}
	if _, err := Serialize("not-a-slice", kp); err == nil {
		t.Fatal("expected error when compound value is not a slice")
	}
}

func TestSerializeItemKeySingle(t *testing.T) {
	item := map[string]any{"id": "abc"}
	s, err := SerializeItemKey(item, schema.Single("id"))
	if err != nil {
		t.Fatal(err)
	}
	if s != "Sabc" {
		t.Fatalf("got %q, want %q", s, "Sabc")
	}
}

func TestSerializeItemKeyMissingPath(t *testing.T) {
	item := map[string]any{"other": "x"}
	if _, err := SerializeItemKey(item, schema.Single("id")); err == nil {
		t.Fatal("expected error for missing key path")
	}
}

func TestListOfKeysSingleValue(t *testing.T) {
	kp := schema.Single("id")
	keys, err := ListOfKeys("abc", kp)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "Sabc" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestListOfKeysSlice(t *testing.T) {
	kp := schema.Single("id")
	keys, err := ListOfKeys([]any{"a", "b", "c"}, kp)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Sa", "Sb", "Sc"}
	for i, k := range keys {
		if k != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}
