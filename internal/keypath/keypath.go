// Package keypath extracts values from items by dotted path and serializes
// them into a total-ordered string, single or compound. The serialization
// is what every index column, bucket key, and side-table key is built from.
package keypath

import (
	"fmt"
	"strings"

	"nsprovider/internal/schema"
	"nsprovider/internal/storeerr"
)

// Extract walks a dotted path ("a.b.c") through an item and returns the
// value found there. It returns (nil, false) as soon as any intermediate
// segment is missing or is not itself a nested object.
func Extract(item map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = item
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ExtractKeyPath extracts either the single value or the ordered tuple of
// values described by a schema.KeyPath.
func ExtractKeyPath(item map[string]any, kp schema.KeyPath) ([]any, bool) {
	paths := kp.Paths()
	values := make([]any, len(paths))
	for i, p := range paths {
		v, ok := Extract(item, p)
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// Serialize produces the total-order-preserving string for a value at a
// given key path. For a compound key path, value must be a []any of the
// same length as kp.Paths(); components are encoded individually and
// joined with the 0x1F unit-separator byte, which sorts below every type
// tag.
func Serialize(value any, kp schema.KeyPath) (string, error) {
	if kp.IsCompound() {
		values, ok := value.([]any)
		if !ok {
			return "", fmt.Errorf("%w: compound key requires a slice of %d components, got %T", storeerr.ErrInvalidKey, len(kp.Compound), value)
		}
		if len(values) != len(kp.Compound) {
			return "", fmt.Errorf("%w: compound key expects %d components, got %d", storeerr.ErrInvalidKey, len(kp.Compound), len(values))
		}
		parts := make([]string, len(values))
		for i, v := range values {
			enc, err := encodeComponent(v)
			if err != nil {
				return "", fmt.Errorf("%w: component %d: %s", storeerr.ErrInvalidKey, i, err)
			}
			parts[i] = enc
		}
		return strings.Join(parts, string(componentSeparator)), nil
	}

	enc, err := encodeComponent(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s", storeerr.ErrInvalidKey, err)
	}
	return enc, nil
}

// SerializeValue encodes a single value as a key component, the same way
// Serialize does for a non-compound key path. The store runtime uses it to
// serialize one element of a multi-entry index's array value, where there
// is no surrounding KeyPath to consult.
func SerializeValue(value any) (string, error) {
	enc, err := encodeComponent(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s", storeerr.ErrInvalidKey, err)
	}
	return enc, nil
}

// SerializeItemKey extracts and serializes a key path directly from an
// item, combining Extract and Serialize.
func SerializeItemKey(item map[string]any, kp schema.KeyPath) (string, error) {
	values, ok := ExtractKeyPath(item, kp)
	if !ok {
		return "", fmt.Errorf("%w: key path %q not present in item", storeerr.ErrInvalidKey, kp.String())
	}
	if kp.IsCompound() {
		return Serialize(values, kp)
	}
	return Serialize(values[0], kp)
}

// ListOfKeys normalizes a single key value or a slice of key values into a
// list of serialized strings, preserving order. It is used by GetMultiple
// and by batch Remove.
func ListOfKeys(keys any, kp schema.KeyPath) ([]string, error) {
	slice, isSlice := keys.([]any)
	if !isSlice {
		s, err := Serialize(keys, kp)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}

	out := make([]string, len(slice))
	for i, k := range slice {
		s, err := Serialize(k, kp)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}
