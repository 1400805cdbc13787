// Package validate implements the flow validator (spec.md §4.3): it rejects
// ill-formed FlowConfig graphs with a detailed error list and reports
// unreachable states as non-fatal warnings.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dialogforge/engine/flow"
)

// Error aggregates every rejection found while validating a flow. Flow
// authors get the full list in one pass instead of a single stop-on-first
// error, mirroring how the teacher's jsonschema-backed validators surface
// every FieldIssue at once (runtime/toolregistry: FieldIssue lists).
type Error struct {
	Issues []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("flow validation failed: %s", strings.Join(e.Issues, "; "))
}

// Result carries the validator's non-fatal findings: states that exist in
// the flow but are not reachable from Start by forward transition
// traversal.
type Result struct {
	Warnings []string
}

// Validate checks cfg against every rejection rule in spec.md §4.3 and
// returns the reachability warnings when cfg is otherwise well-formed. A
// non-nil error is always an *Error with every violation found, not just
// the first.
func Validate(cfg flow.Config) (Result, error) {
	var issues []string

	if cfg.Meta.Name == "" {
		issues = append(issues, "meta.name is required")
	}
	if cfg.Start == "" {
		issues = append(issues, "start is required")
	}
	if len(cfg.States) == 0 {
		issues = append(issues, "states must not be empty")
	}
	if cfg.Start != "" {
		if _, ok := cfg.States[cfg.Start]; !ok {
			issues = append(issues, fmt.Sprintf("start state %q is not in states", cfg.Start))
		}
	}

	stateNames := make([]string, 0, len(cfg.States))
	for name := range cfg.States {
		stateNames = append(stateNames, name)
	}
	sort.Strings(stateNames)

	for _, name := range stateNames {
		state := cfg.States[name]
		for _, action := range state.OnEnter {
			if action.Kind() == flow.ActionInvalid {
				issues = append(issues, fmt.Sprintf("state %q: onEnter action must set exactly one of say/ask/transfer/hangup/tool", name))
				continue
			}
			if action.Kind() == flow.ActionTool {
				if _, ok := cfg.Tools[action.Tool.Name]; !ok {
					issues = append(issues, fmt.Sprintf("state %q: onEnter references unknown tool %q", name, action.Tool.Name))
				}
			}
		}
		for ti, tr := range state.Transitions {
			issues = append(issues, validateTransition(cfg, name, ti, tr)...)
		}
	}

	if len(issues) > 0 {
		return Result{}, &Error{Issues: issues}
	}

	return Result{Warnings: unreachableWarnings(cfg)}, nil
}

func validateTransition(cfg flow.Config, stateName string, idx int, tr flow.Transition) []string {
	var issues []string
	label := fmt.Sprintf("state %q transition #%d", stateName, idx)

	if tr.IsIntentDriven() {
		for _, name := range tr.OnIntent {
			if _, ok := cfg.Intents[name]; !ok {
				issues = append(issues, fmt.Sprintf("%s: onIntent references unknown intent %q", label, name))
			}
		}
	}

	if !tr.IsIntentDriven() && !tr.IsToolResultDriven() && !tr.HasBranch() {
		issues = append(issues, fmt.Sprintf("%s: must have one of onIntent, onToolResult, or branch", label))
	}

	if !tr.HasBranch() && tr.To == "" {
		issues = append(issues, fmt.Sprintf("%s: missing 'to' and no branch present", label))
	}
	if tr.To != "" {
		if _, ok := cfg.States[tr.To]; !ok {
			issues = append(issues, fmt.Sprintf("%s: 'to' references unknown state %q", label, tr.To))
		}
	}
	for bi, b := range tr.Branch {
		if _, ok := cfg.States[b.To]; !ok {
			issues = append(issues, fmt.Sprintf("%s branch #%d: 'to' references unknown state %q", label, bi, b.To))
		}
	}

	return issues
}

// unreachableWarnings performs a forward traversal from Start following
// every transition target (including branch targets) and reports states
// that traversal never reaches.
func unreachableWarnings(cfg flow.Config) []string {
	reached := map[string]bool{cfg.Start: true}
	queue := []string{cfg.Start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		state, ok := cfg.States[name]
		if !ok {
			continue
		}
		for _, tr := range state.Transitions {
			targets := transitionTargets(tr)
			for _, t := range targets {
				if !reached[t] {
					reached[t] = true
					queue = append(queue, t)
				}
			}
		}
	}

	var warnings []string
	names := make([]string, 0, len(cfg.States))
	for name := range cfg.States {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !reached[name] {
			warnings = append(warnings, fmt.Sprintf("state %q is unreachable from start %q", name, cfg.Start))
		}
	}
	return warnings
}

func transitionTargets(tr flow.Transition) []string {
	if tr.HasBranch() {
		targets := make([]string, 0, len(tr.Branch))
		for _, b := range tr.Branch {
			if b.To != "" {
				targets = append(targets, b.To)
			}
		}
		return targets
	}
	if tr.To != "" {
		return []string{tr.To}
	}
	return nil
}

// IsValidationError reports whether err originated from Validate, letting
// HTTP handlers distinguish a 400 (validation) from other failures.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}
