// Package template implements the flow DSL's interpolation language (spec.md
// §4.1): "{{ctx.path}}", "{{slot.path}}", and "{{tool.path}}" references
// embedded in strings and nested argument structures, resolved against the
// current session context, the most recent classified slots, or the most
// recent tool result.
package template

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/dialogforge/engine/value"
)

// Environments bundles the three lookup scopes a template may reference.
// Any of the three may be nil; a nil environment simply yields no matches,
// which resolves to the empty string per spec.md §4.1.
type Environments struct {
	Ctx  any
	Slot any
	Tool any
}

var placeholder = regexp.MustCompile(`\{\{\s*(ctx|slot|tool)\.([A-Za-z0-9_.\-]*)\s*\}\}`)

var fullPlaceholder = regexp.MustCompile(`^\s*\{\{\s*(ctx|slot|tool)\.([A-Za-z0-9_.\-]*)\s*\}\}\s*$`)

// Resolve interpolates tmpl against env. Strings are substituted and then
// leniently re-typed (see resolveString); maps and slices are walked
// recursively so an args-template for a tool action can mix literal and
// interpolated fields at any depth; any other Go value is assumed to be
// already resolved and is returned unchanged, which is what makes Resolve
// idempotent over non-templated values (spec.md §8 property 6).
func Resolve(tmpl any, env Environments) (any, error) {
	switch t := tmpl.(type) {
	case string:
		return resolveString(t, env), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			rv, err := Resolve(v, env)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			rv, err := Resolve(v, env)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return tmpl, nil
	}
}

// resolveString substitutes every "{{env.path}}" occurrence in s and then
// applies the lenient re-typing pass described in spec.md §4.1.
//
// When s is, once trimmed, exactly one placeholder, the looked-up value is
// substituted via its JSON encoding so the subsequent lenient parse can
// reconstruct the original type (object, array, bool, number) rather than a
// display string. Placeholders embedded in surrounding text are substituted
// with their human-readable rendering instead, since the result can no
// longer be parsed back into a single structured value.
func resolveString(s string, env Environments) any {
	if m := fullPlaceholder.FindStringSubmatch(s); m != nil {
		v, ok := lookup(env, m[1], m[2])
		if !ok {
			return ""
		}
		return jsonRoundTrip(v)
	}
	substituted := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		v, ok := lookup(env, m[1], m[2])
		if !ok {
			return ""
		}
		return value.Stringify(v)
	})
	return lenientParse(substituted)
}

func lookup(env Environments, scope, path string) (any, bool) {
	switch scope {
	case "ctx":
		return value.Get(env.Ctx, path)
	case "slot":
		return value.Get(env.Slot, path)
	case "tool":
		return value.Get(env.Tool, path)
	default:
		return nil, false
	}
}

// jsonRoundTrip converts v to its JSON text and immediately re-parses it,
// normalizing it to the map[string]any / []any / float64 / string / bool /
// nil shapes the rest of the engine expects (mirrors how the lenient parser
// below re-derives types from text).
func jsonRoundTrip(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return value.Stringify(v)
	}
	parsed, ok := strictJSONParse(string(b))
	if !ok {
		return value.Stringify(v)
	}
	return parsed
}

// lenientParse implements the "resolved string is parsed leniently" rule:
// a string that is exactly one JSON literal (object, array, bool, null,
// number, or quoted string) is replaced by its parsed value; anything else,
// including the empty string produced by a missing lookup, is kept as-is.
func lenientParse(s string) any {
	if s == "" {
		return ""
	}
	if v, ok := strictJSONParse(s); ok {
		return v
	}
	return s
}

// strictJSONParse reports whether s is, in its entirety (ignoring
// surrounding whitespace), exactly one JSON value, returning that value
// when so. Partial matches ("42abc") are rejected so that non-numeric
// strings are never silently truncated.
func strictJSONParse(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}
