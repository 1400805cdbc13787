// Package flow defines the declarative FlowConfig data model (spec.md §3):
// the immutable, author-supplied description of intents, tools, states,
// actions, and transitions that the orchestrator interprets for every
// session bound to it.
package flow

import "encoding/json"

type (
	// Config is a complete, immutable flow description. Once a session binds
	// to a Config it never changes for that session's lifetime (spec.md §3
	// "Ownership").
	Config struct {
		Meta    Meta                  `json:"meta" yaml:"meta"`
		Start   string                `json:"start" yaml:"start"`
		Intents map[string]Intent     `json:"intents" yaml:"intents"`
		Tools   map[string]ToolSpec   `json:"tools" yaml:"tools"`
		States  map[string]StateSpec  `json:"states" yaml:"states"`
	}

	// Meta carries human-facing flow identification.
	Meta struct {
		Name   string `json:"name" yaml:"name"`
		Locale string `json:"locale" yaml:"locale"`
	}

	// Intent declares one classifiable user intent and the typed slots a
	// classifier is expected to extract for it.
	Intent struct {
		Examples []string        `json:"examples" yaml:"examples"`
		Slots    map[string]Slot `json:"slots" yaml:"slots"`
	}

	// Slot is a typed argument extracted alongside an intent.
	Slot struct {
		Type SlotType `json:"type" yaml:"type"`
	}

	// SlotType enumerates the slot types the classifier contract supports
	// (spec.md §3).
	SlotType string

	// ToolSpec declares a tool's argument/result contract and timeout.
	ToolSpec struct {
		ArgsSchema   json.RawMessage `json:"argsSchema,omitempty" yaml:"argsSchema,omitempty"`
		ResultSchema json.RawMessage `json:"resultSchema,omitempty" yaml:"resultSchema,omitempty"`
		TimeoutMS    *float64        `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	}

	// StateSpec is one node of the flow graph: an ordered list of actions run
	// on entry and an ordered list of candidate transitions.
	StateSpec struct {
		OnEnter     []Action     `json:"onEnter,omitempty" yaml:"onEnter,omitempty"`
		Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	}

	// Action is exactly one of say/ask/transfer/hangup/tool (spec.md §3). Use
	// the As* helpers or Kind to discriminate; exactly one of the optional
	// fields is populated, enforced by the validator.
	Action struct {
		Say      *string      `json:"say,omitempty" yaml:"say,omitempty"`
		Ask      *string      `json:"ask,omitempty" yaml:"ask,omitempty"`
		Transfer *string      `json:"transfer,omitempty" yaml:"transfer,omitempty"`
		Hangup   bool         `json:"hangup,omitempty" yaml:"hangup,omitempty"`
		Tool     *ToolAction  `json:"tool,omitempty" yaml:"tool,omitempty"`
	}

	// ToolAction names the tool to invoke and its argument template.
	ToolAction struct {
		Name string         `json:"name" yaml:"name"`
		Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	}

	// Transition is one of the three discriminated shapes from spec.md §3:
	// intent-driven (OnIntent set), tool-result-driven (OnToolResult set),
	// or a pure guard (neither set, used only inside Branch).
	Transition struct {
		OnIntent     OnIntent          `json:"onIntent,omitempty" yaml:"onIntent,omitempty"`
		OnToolResult string            `json:"onToolResult,omitempty" yaml:"onToolResult,omitempty"`
		When         string            `json:"when,omitempty" yaml:"when,omitempty"`
		Assign       map[string]any    `json:"assign,omitempty" yaml:"assign,omitempty"`
		To           string            `json:"to,omitempty" yaml:"to,omitempty"`
		Branch       []Branch          `json:"branch,omitempty" yaml:"branch,omitempty"`
	}

	// Branch is a single conditional arm evaluated after Assign is applied.
	Branch struct {
		When string `json:"when" yaml:"when"`
		To   string `json:"to" yaml:"to"`
	}

	// OnIntent holds either a single intent name or a set of names; it
	// unmarshals from either a YAML/JSON scalar or a sequence.
	OnIntent []string
)

const (
	SlotNumber SlotType = "number"
	SlotDate   SlotType = "date"
	SlotTime   SlotType = "time"
	SlotName   SlotType = "name"
	SlotPhone  SlotType = "phone"
	SlotString SlotType = "string"
)

// Matches reports whether intent name equals one of the onIntent names,
// per spec.md §4.7's "string equality, or set membership when onIntent is a
// list" rule.
func (o OnIntent) Matches(name string) bool {
	for _, n := range o {
		if n == name {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the transition has no onIntent trigger at all.
func (o OnIntent) IsEmpty() bool {
	return len(o) == 0
}

// IsIntentDriven reports whether t is an intent-driven transition.
func (t Transition) IsIntentDriven() bool {
	return !t.OnIntent.IsEmpty()
}

// IsToolResultDriven reports whether t is a tool-result-driven transition.
func (t Transition) IsToolResultDriven() bool {
	return t.OnToolResult != ""
}

// HasBranch reports whether t carries a branch list. Per spec.md §3,
// "branch wins if both appear" when combined with To.
func (t Transition) HasBranch() bool {
	return len(t.Branch) > 0
}

// ActionKind enumerates the discriminated Action variants.
type ActionKind int

const (
	ActionInvalid ActionKind = iota
	ActionSay
	ActionAsk
	ActionTransfer
	ActionHangup
	ActionTool
)

// Kind returns which single variant a is, or ActionInvalid if zero or more
// than one of the variant fields is populated (the validator rejects the
// latter at flow-load time; Kind is also used by the validator itself to
// detect it).
func (a Action) Kind() ActionKind {
	set := 0
	kind := ActionInvalid
	if a.Say != nil {
		set++
		kind = ActionSay
	}
	if a.Ask != nil {
		set++
		kind = ActionAsk
	}
	if a.Transfer != nil {
		set++
		kind = ActionTransfer
	}
	if a.Hangup {
		set++
		kind = ActionHangup
	}
	if a.Tool != nil {
		set++
		kind = ActionTool
	}
	if set != 1 {
		return ActionInvalid
	}
	return kind
}
