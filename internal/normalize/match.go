package normalize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Record is a single flat remote row
type Record map[string]any

// Matcher maps one canonical field to an ordered list of key fragments.
// Keys containing any Exclude fragment never match. ExactOnly disables
// substring matching for short fragments such as "id".
type Matcher struct {
	Field     string
	Fragments []string
	Exclude   []string
	ExactOnly bool
}

// Schema is an ordered set of matchers. Earlier matchers claim keys first.
type Schema []Matcher

// Resolved is a record together with its canonical-field to raw-key index
type Resolved struct {
	rec  Record
	keys map[string]string
}

// Resolve evaluates every matcher against the record once.
// For each matcher an exact key match on any fragment wins over a substring
// match, and fragments are tried in order within each pass.
func (s Schema) Resolve(r Record) Resolved {
	raw := make([]string, 0, len(r))
	for k := range r {
		raw = append(raw, k)
	}
	sort.Strings(raw)

	norm := make(map[string]string, len(raw))
	for _, k := range raw {
		norm[k] = normalizeKey(k)
	}

	claimed := make(map[string]bool, len(raw))
	keys := make(map[string]string, len(s))

	for _, m := range s {
		if k, ok := m.find(raw, norm, claimed); ok {
			keys[m.Field] = k
			claimed[k] = true
		}
	}

	return Resolved{rec: r, keys: keys}
}

func (m Matcher) find(raw []string, norm map[string]string, claimed map[string]bool) (string, bool) {
	usable := func(k string) bool {
		if claimed[k] {
			return false
		}
		for _, ex := range m.Exclude {
			if strings.Contains(norm[k], normalizeKey(ex)) {
				return false
			}
		}
		return true
	}

	for _, frag := range m.Fragments {
		f := normalizeKey(frag)
		for _, k := range raw {
			if norm[k] == f && usable(k) {
				return k, true
			}
		}
	}
	if m.ExactOnly {
		return "", false
	}
	for _, frag := range m.Fragments {
		f := normalizeKey(frag)
		for _, k := range raw {
			if strings.Contains(norm[k], f) && usable(k) {
				return k, true
			}
		}
	}
	return "", false
}

// Key returns the raw key matched for field
func (r Resolved) Key(field string) (string, bool) {
	k, ok := r.keys[field]
	return k, ok
}

// Has reports whether the field matched a key
func (r Resolved) Has(field string) bool {
	_, ok := r.keys[field]
	return ok
}

// String returns the matched value as trimmed text
func (r Resolved) String(field string) string {
	k, ok := r.keys[field]
	if !ok {
		return ""
	}
	return valueString(r.rec[k])
}

// Bool interprets the matched value as a flag
func (r Resolved) Bool(field string) bool {
	switch strings.ToLower(r.String(field)) {
	case "true", "yes", "1", "y":
		return true
	default:
		return false
	}
}

// Rest returns the values of keys no matcher claimed
func (r Resolved) Rest() map[string]any {
	used := make(map[string]bool, len(r.keys))
	for _, k := range r.keys {
		used[k] = true
	}
	out := make(map[string]any)
	for k, v := range r.rec {
		if !used[k] {
			out[k] = v
		}
	}
	return out
}

// normalizeKey lowercases and collapses separators so "Upload_Date",
// "upload date" and " Upload  Date " compare equal.
func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.NewReplacer("_", " ", "-", " ").Replace(k)
	return strings.Join(strings.Fields(k), " ")
}

func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
