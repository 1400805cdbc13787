// Package guard evaluates the fixed-grammar boolean expressions used by
// transition "when" clauses and branch conditions (spec.md §4.2). The
// grammar is deliberately restricted: exactly one operator per expression,
// chosen from a fixed set, with no precedence climbing — this is not a
// general scripting language, it is a guard language.
package guard

import (
	"strconv"
	"strings"

	"github.com/dialogforge/engine/template"
	"github.com/dialogforge/engine/value"
)

// operator is one entry in the fixed operator set, ordered so that
// multi-character operators are matched before their single-character
// prefixes ("&&" before a lone "&", ">=" before "="/">").
type operator struct {
	token string
	kind  kind
}

type kind int

const (
	kindCompare kind = iota
	kindAnd
	kindOr
)

var operators = []operator{
	{">=", kindCompare},
	{"<=", kindCompare},
	{"==", kindCompare},
	{"!=", kindCompare},
	{"&&", kindAnd},
	{"||", kindOr},
	{">", kindCompare},
	{"<", kindCompare},
}

// Eval evaluates expr against env and returns its boolean result. The
// literal "else" always evaluates true (branch default). Any other
// expression is scanned left-to-right for the first occurring operator in
// the fixed set; both sides are template-resolved against env before the
// operator is applied. An expression containing no recognized operator is
// itself template-resolved and evaluated via truthiness.
func Eval(expr string, env template.Environments) (bool, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "else" {
		return true, nil
	}

	pos, op, opLen := firstOperator(trimmed)
	if op == nil {
		resolved, err := template.Resolve(trimmed, env)
		if err != nil {
			return false, err
		}
		return truthy(resolved), nil
	}

	left := strings.TrimSpace(trimmed[:pos])
	right := strings.TrimSpace(trimmed[pos+opLen:])

	switch op.kind {
	case kindAnd, kindOr:
		lv, err := evalSide(left, env)
		if err != nil {
			return false, err
		}
		rv, err := evalSide(right, env)
		if err != nil {
			return false, err
		}
		if op.kind == kindAnd {
			return lv && rv, nil
		}
		return lv || rv, nil
	default:
		lv, err := template.Resolve(left, env)
		if err != nil {
			return false, err
		}
		rv, err := template.Resolve(right, env)
		if err != nil {
			return false, err
		}
		return compare(op.token, lv, rv), nil
	}
}

// evalSide resolves and truthiness-tests one side of a "&&"/"||"
// expression; nesting further operators inside a side is not supported, per
// the grammar's "no precedence beyond single-operator expressions" rule.
func evalSide(side string, env template.Environments) (bool, error) {
	if strings.TrimSpace(side) == "else" {
		return true, nil
	}
	resolved, err := template.Resolve(side, env)
	if err != nil {
		return false, err
	}
	return truthy(resolved), nil
}

// firstOperator scans s left-to-right for the first occurrence of any
// operator in the fixed set, preferring the longer two-character tokens
// when they start at the same position as a shorter one.
func firstOperator(s string) (pos int, op *operator, tokenLen int) {
	for i := range s {
		for oi := range operators {
			tok := operators[oi].token
			if strings.HasPrefix(s[i:], tok) {
				return i, &operators[oi], len(tok)
			}
		}
	}
	return 0, nil, 0
}

// compare applies op to two template-resolved values, using numeric
// ordering when both sides are numbers and string ordering otherwise
// (spec.md §4.2).
func compare(op string, left, right any) bool {
	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if lok && rok {
		switch op {
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		}
	}
	ls, rs := value.Stringify(left), value.Stringify(right)
	switch op {
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// truthy implements the fallback "any other resolved value evaluates via
// truthiness" rule: non-empty string, non-zero number, non-empty object,
// non-empty array, or true boolean.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
