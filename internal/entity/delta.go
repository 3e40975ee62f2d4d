package entity

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DeltaOp is the operation a delta key applies.
type DeltaOp int

const (
	// OpReplace replaces every value (or removes the attribute for nil).
	OpReplace DeltaOp = iota
	// OpAdd adds values, keyed as "+name".
	OpAdd
	// OpRemove removes values, keyed as "-name".
	OpRemove
)

// Delta is a set of attribute changes. Values are nil (remove the
// attribute), a string (replace with one value) or a []string (replace
// with many values). Keys prefixed with "+" or "-" add or remove values.
type Delta map[string]any

// ParseDeltaKey splits a delta key into its operation and attribute name.
func ParseDeltaKey(key string) (DeltaOp, string) {
	switch {
	case strings.HasPrefix(key, "+"):
		return OpAdd, key[1:]
	case strings.HasPrefix(key, "-"):
		return OpRemove, key[1:]
	default:
		return OpReplace, key
	}
}

// Keys returns the delta keys in sorted order.
func (d Delta) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Names returns the distinct attribute names touched by the delta.
func (d Delta) Names() []string {
	seen := make(map[string]struct{}, len(d))
	var out []string
	for _, key := range d.Keys() {
		_, name := ParseDeltaKey(key)
		lower := strings.ToLower(name)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ValuesOf returns the values of a delta key; nil means remove.
func (d Delta) ValuesOf(key string) []string {
	switch v := d[key].(type) {
	case string:
		return []string{v}
	case []string:
		return slices.Clone(v)
	default:
		return nil
	}
}

// Lookup finds the replacement values for an attribute name. ok is false
// when the attribute is not replaced by the delta.
func (d Delta) Lookup(name string) (values []string, ok bool) {
	for key := range d {
		if op, n := ParseDeltaKey(key); op == OpReplace && strings.EqualFold(n, name) {
			return d.ValuesOf(key), true
		}
	}
	return nil, false
}

// Touches reports whether any key of the delta changes name.
func (d Delta) Touches(name string) bool {
	for key := range d {
		if _, n := ParseDeltaKey(key); strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Validate checks that every value has a supported type.
func (d Delta) Validate() error {
	for key, v := range d {
		switch v.(type) {
		case nil, string, []string:
		default:
			return fmt.Errorf("attribute %q: unsupported value type %T", key, v)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for k, v := range d {
		if s, ok := v.([]string); ok {
			v = slices.Clone(s)
		}
		out[k] = v
	}
	return out
}
