package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogforge/engine/template"
)

func TestResolve_PlainString(t *testing.T) {
	out, err := template.Resolve("hello there", template.Environments{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestResolve_MissingLookupYieldsEmptyString(t *testing.T) {
	out, err := template.Resolve("{{ctx.nope}}", template.Environments{Ctx: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestResolve_FullPlaceholderPreservesType(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"partySize": float64(4)}}
	out, err := template.Resolve("{{ctx.partySize}}", env)
	require.NoError(t, err)
	assert.Equal(t, float64(4), out)
}

func TestResolve_FullPlaceholderObjectRoundTrips(t *testing.T) {
	env := template.Environments{Tool: map[string]any{"result": map[string]any{"ok": true}}}
	out, err := template.Resolve("{{tool.result}}", env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestResolve_EmbeddedPlaceholderStringifies(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"name": "John Doe"}}
	out, err := template.Resolve("Hello, {{ctx.name}}!", env)
	require.NoError(t, err)
	assert.Equal(t, "Hello, John Doe!", out)
}

func TestResolve_PhoneNumberStaysString(t *testing.T) {
	env := template.Environments{Slot: map[string]any{"phone": "555-1234"}}
	out, err := template.Resolve("{{slot.phone}}", env)
	require.NoError(t, err)
	assert.Equal(t, "555-1234", out)
}

func TestResolve_NestedStructure(t *testing.T) {
	env := template.Environments{
		Slot: map[string]any{"date": "2026-08-01", "time": "19:00", "partySize": float64(4)},
	}
	tmpl := map[string]any{
		"date":      "{{slot.date}}",
		"time":      "{{slot.time}}",
		"partySize": "{{slot.partySize}}",
	}
	out, err := template.Resolve(tmpl, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"date":      "2026-08-01",
		"time":      "19:00",
		"partySize": float64(4),
	}, out)
}

func TestResolve_IdempotentOverAlreadyResolved(t *testing.T) {
	first, err := template.Resolve("{{ctx.x}}", template.Environments{Ctx: map[string]any{"x": float64(10)}})
	require.NoError(t, err)

	second, err := template.Resolve(first, template.Environments{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolve_ArrayRecursion(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"a": "x", "b": "y"}}
	out, err := template.Resolve([]any{"{{ctx.a}}", "{{ctx.b}}", "literal"}, env)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "literal"}, out)
}
