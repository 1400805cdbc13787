// Package value implements the dynamically-typed, dotted-path-addressable
// tree used to hold session context, slots, and tool results. Values are
// plain Go data (nil, bool, float64, string, []any, map[string]any) so that
// JSON and YAML round-trip without a dedicated codec; the helpers in this
// package give that data structural operations a flow author can rely on:
// dotted-path lookup, dotted-path assignment, and deep merge.
package value

import (
	"strconv"
	"strings"
)

// Get resolves a dotted path (e.g. "contact.phone") against root, returning
// the zero value (nil) and false when any segment of the path is missing or
// when an intermediate segment is not a map.
func Get(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves path and renders the result as a string, applying the
// same stringification rules the template resolver uses for interpolation.
// Missing lookups render as the empty string.
func GetString(root any, path string) string {
	v, ok := Get(root, path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Stringify renders a resolved value the way template interpolation does:
// strings pass through unchanged, numbers drop trailing zeros, booleans
// render as "true"/"false", nil renders as "", lists render as their
// stringified elements joined by commas inside brackets, maps render as
// "{object}", and any other type renders as "".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return toDisplayString(t)
	}
}

// Set assigns value at the dotted path within root, creating intermediate
// maps as needed, and returns the (possibly new) root. root is mutated in
// place when it is already a map[string]any; callers that need an
// untouched original should clone first with Clone.
func Set(root map[string]any, path string, val any) map[string]any {
	if root == nil {
		root = map[string]any{}
	}
	segs := strings.Split(path, ".")
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = val
			return root
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return root
}

// Clone returns a deep copy of v so merges and mutations never alias a
// caller-owned structure.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Clone(vv)
		}
		return out
	default:
		return v
	}
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		return "{object}"
	default:
		return ""
	}
}
