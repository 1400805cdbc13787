package guard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogforge/engine/guard"
	"github.com/dialogforge/engine/template"
)

func TestEval_Else(t *testing.T) {
	ok, err := guard.Eval("else", template.Environments{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_NumericComparison(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"x": float64(10)}}
	ok, err := guard.Eval("{{ctx.x}} > 8", env)
	require.NoError(t, err)
	assert.True(t, ok)

	env = template.Environments{Ctx: map[string]any{"x": float64(4)}}
	ok, err = guard.Eval("{{ctx.x}} > 8", env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEval_PartySizeBranch(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"partySize": float64(12)}}
	ok, err := guard.Eval("ctx.partySize > 8", env)
	require.NoError(t, err)
	// A bare "ctx.partySize" (no {{ }}) is not a placeholder, so it resolves
	// as the literal string "ctx.partySize" and the right side as "8"; string
	// ordering puts letters above digits, so this is true whatever partySize
	// holds. Authors must use "{{ctx.partySize}} > 8" to compare the resolved
	// value.
	assert.True(t, ok)

	ok, err = guard.Eval("{{ctx.partySize}} > 8", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_StringEquality(t *testing.T) {
	env := template.Environments{Tool: map[string]any{"ok": false}}
	ok, err := guard.Eval("{{tool.ok}} == false", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_AndOr(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"a": "yes", "b": ""}}
	ok, err := guard.Eval("{{ctx.a}} && {{ctx.b}}", env)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Eval("{{ctx.a}} || {{ctx.b}}", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_TruthinessFallback(t *testing.T) {
	ok, err := guard.Eval("{{ctx.name}}", template.Environments{Ctx: map[string]any{"name": "John"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Eval("{{ctx.name}}", template.Environments{Ctx: map[string]any{"name": ""}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEval_NotEqual(t *testing.T) {
	env := template.Environments{Ctx: map[string]any{"status": "pending"}}
	ok, err := guard.Eval(`{{ctx.status}} != "done"`, env)
	require.NoError(t, err)
	assert.True(t, ok)
}
