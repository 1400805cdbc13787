package template_test

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dialogforge/engine/template"
)

// TestResolveProperty_IdempotentOnPlainText verifies spec.md §8 property 6:
// resolving a value with no template placeholders is a no-op, and resolving
// its own output again yields the identical value, regardless of what the
// environments contain.
func TestResolveProperty_IdempotentOnPlainText(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolving untemplated text twice yields the same text both times", prop.ForAll(
		func(s string, ctxVal string) bool {
			env := template.Environments{Ctx: map[string]any{"x": ctxVal}}

			first, err := template.Resolve(s, env)
			if err != nil {
				return false
			}
			second, err := template.Resolve(s, env)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(first, second) && first == s
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestResolveProperty_FullPlaceholderRoundTripsScalars verifies that a
// string consisting of exactly one "{{ctx.path}}" placeholder recovers the
// looked-up value's original type, not just its stringified form.
func TestResolveProperty_FullPlaceholderRoundTripsScalars(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a lone ctx placeholder resolves back to the stored value", prop.ForAll(
		func(v scalarValue) bool {
			env := template.Environments{Ctx: map[string]any{"field": v.value}}
			out, err := template.Resolve("{{ctx.field}}", env)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(out, v.value)
		},
		genScalarValue(),
	))

	properties.TestingRun(t)
}

// TestResolveProperty_MapShapePreserved verifies Resolve recurses into
// nested args without altering keys or values when none of the leaves are
// placeholders, as a tool action's literal (non-templated) arguments should
// pass through unchanged.
func TestResolveProperty_MapShapePreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a literal-only map resolves to an equal map", prop.ForAll(
		func(m map[string]string) bool {
			in := make(map[string]any, len(m))
			for k, v := range m {
				in[k] = v
			}
			out, err := template.Resolve(in, template.Environments{})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(out, in)
		},
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

type scalarValue struct {
	value any
}

func genScalarValue() gopter.Gen {
	return gen.OneGenOf(
		gen.Float64Range(-1000, 1000).Map(func(f float64) scalarValue { return scalarValue{value: f} }),
		gen.Bool().Map(func(b bool) scalarValue { return scalarValue{value: b} }),
		gen.AlphaString().Map(func(s string) scalarValue { return scalarValue{value: s} }),
	)
}
