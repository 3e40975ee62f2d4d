package entity

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// GeneralizedTimeFormat is the directory timestamp layout used for
// createTimestamp and the auto-provisioning checkpoint.
const GeneralizedTimeFormat = "20060102150405Z"

// generalizedTimeFraction accepts the fractional seconds some servers emit.
const generalizedTimeFraction = "20060102150405.999999999Z"

// Attrs is an attribute map. Attribute names are matched case-insensitively.
type Attrs map[string][]string

// key returns the stored key matching name, or "" if absent.
func (a Attrs) key(name string) string {
	if _, ok := a[name]; ok {
		return name
	}
	for k := range a {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return ""
}

// Has reports whether the attribute is present with at least one value.
func (a Attrs) Has(name string) bool {
	return len(a.Values(name)) > 0
}

// Values returns every value of an attribute.
func (a Attrs) Values(name string) []string {
	if k := a.key(name); k != "" {
		return a[k]
	}
	return nil
}

// Get returns the first value of an attribute, or "".
func (a Attrs) Get(name string) string {
	if v := a.Values(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Bool interprets the attribute as a directory boolean (TRUE/FALSE).
func (a Attrs) Bool(name string) bool {
	return strings.EqualFold(a.Get(name), "TRUE")
}

// Int returns the attribute parsed as an integer, or def when absent or malformed.
func (a Attrs) Int(name string, def int) int {
	v := a.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Duration parses the attribute as a duration. Values are Go durations or a
// number with an optional d (days), h, m, s or ms suffix; plain numbers are
// seconds. def is returned when absent or malformed.
func (a Attrs) Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(a.Get(name))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// Time parses the attribute as a generalized time.
func (a Attrs) Time(name string) (time.Time, bool) {
	v := a.Get(name)
	if v == "" {
		return time.Time{}, false
	}
	t, err := ParseGeneralizedTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Set replaces the values of an attribute. No values removes it.
func (a Attrs) Set(name string, values ...string) {
	if k := a.key(name); k != "" {
		delete(a, k)
	}
	if len(values) > 0 {
		a[name] = slices.Clone(values)
	}
}

// Delete removes an attribute.
func (a Attrs) Delete(name string) {
	if k := a.key(name); k != "" {
		delete(a, k)
	}
}

// Clone returns a deep copy.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return Attrs{}
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = slices.Clone(v)
	}
	return out
}

// Equal reports whether both maps hold the same attributes and values.
func (a Attrs) Equal(other Attrs) bool {
	if len(a) != len(other) {
		return false
	}
	for k, v := range a {
		if !slices.Equal(v, other.Values(k)) {
			return false
		}
	}
	return true
}

// Names returns the attribute names in sorted order.
func (a Attrs) Names() []string {
	return slices.Sorted(maps.Keys(a))
}

// Apply applies a delta in place.
func (a Attrs) Apply(d Delta) {
	for _, key := range d.Keys() {
		op, name := ParseDeltaKey(key)
		values := d.ValuesOf(key)
		switch op {
		case OpAdd:
			current := a.Values(name)
			for _, v := range values {
				if !slices.Contains(current, v) {
					current = append(current, v)
				}
			}
			a.Set(name, current...)
		case OpRemove:
			if len(values) == 0 {
				a.Delete(name)
				continue
			}
			current := slices.DeleteFunc(slices.Clone(a.Values(name)), func(v string) bool {
				return slices.Contains(values, v)
			})
			a.Set(name, current...)
		default:
			a.Set(name, values...)
		}
	}
}

// FormatGeneralizedTime renders t in UTC generalized time.
func FormatGeneralizedTime(t time.Time) string {
	return t.UTC().Format(GeneralizedTimeFormat)
}

// ParseGeneralizedTime parses a generalized time with or without fractional seconds.
func ParseGeneralizedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(GeneralizedTimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(generalizedTimeFraction, s)
}
