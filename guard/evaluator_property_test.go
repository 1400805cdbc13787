package guard_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dialogforge/engine/guard"
	"github.com/dialogforge/engine/template"
)

// TestEvalProperty_ElseAlwaysTrue verifies the guard grammar's one
// unconditional literal: "else", regardless of surrounding whitespace or
// what env holds, always evaluates true (spec.md §4.2).
func TestEvalProperty_ElseAlwaysTrue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("else, however padded, evaluates true", prop.ForAll(
		func(leadSpaces, trailSpaces int, ctxVal string) bool {
			expr := strings.Repeat(" ", leadSpaces) + "else" + strings.Repeat(" ", trailSpaces)
			env := template.Environments{Ctx: map[string]any{"x": ctxVal}}
			ok, err := guard.Eval(expr, env)
			return err == nil && ok
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestEvalProperty_NumericComparisonMatchesFloat64 verifies that the
// resolved-numeric branch of compare agrees with Go's own float64 ordering
// for every comparison operator in the fixed set.
func TestEvalProperty_NumericComparisonMatchesFloat64(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cases := []struct {
		op   string
		want func(a, b float64) bool
	}{
		{">=", func(a, b float64) bool { return a >= b }},
		{"<=", func(a, b float64) bool { return a <= b }},
		{"==", func(a, b float64) bool { return a == b }},
		{"!=", func(a, b float64) bool { return a != b }},
		{">", func(a, b float64) bool { return a > b }},
		{"<", func(a, b float64) bool { return a < b }},
	}

	for _, c := range cases {
		c := c
		properties.Property("ctx.x "+c.op+" ctx.y matches native float64 comparison", prop.ForAll(
			func(a, b float64) bool {
				env := template.Environments{Ctx: map[string]any{"x": a, "y": b}}
				expr := "{{ctx.x}} " + c.op + " {{ctx.y}}"
				ok, err := guard.Eval(expr, env)
				return err == nil && ok == c.want(a, b)
			},
			gen.Float64Range(-1e6, 1e6),
			gen.Float64Range(-1e6, 1e6),
		))
	}

	properties.TestingRun(t)
}

// TestEvalProperty_AndOrDeMorgan verifies the boolean operators against
// Go's own && / || semantics over generated truthy/falsy context flags.
func TestEvalProperty_AndOrDeMorgan(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ctx.a && ctx.b matches Go's && over boolean context values", prop.ForAll(
		func(a, b bool) bool {
			env := template.Environments{Ctx: map[string]any{"a": a, "b": b}}
			okAnd, err := guard.Eval("{{ctx.a}} && {{ctx.b}}", env)
			if err != nil || okAnd != (a && b) {
				return false
			}
			okOr, err := guard.Eval("{{ctx.a}} || {{ctx.b}}", env)
			return err == nil && okOr == (a || b)
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
