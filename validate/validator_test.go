package validate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/validate"
)

func sayAction(text string) flow.Action {
	return flow.Action{Say: &text}
}

func minimalFlow() flow.Config {
	return flow.Config{
		Meta:  flow.Meta{Name: "test"},
		Start: "Start",
		States: map[string]flow.StateSpec{
			"Start": {
				OnEnter: []flow.Action{sayAction("hi")},
				Transitions: []flow.Transition{
					{OnIntent: flow.OnIntent{"GREET"}, To: "End"},
				},
			},
			"End": {OnEnter: []flow.Action{sayAction("bye")}},
		},
		Intents: map[string]flow.Intent{
			"GREET": {Examples: []string{"hello"}},
		},
	}
}

func TestValidate_Minimal(t *testing.T) {
	res, err := validate.Validate(minimalFlow())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
}

func TestValidate_MissingStart(t *testing.T) {
	cfg := minimalFlow()
	cfg.Start = "Nowhere"
	_, err := validate.Validate(cfg)
	require.Error(t, err)
	assert.True(t, validate.IsValidationError(err))
}

func TestValidate_UnknownTransitionTarget(t *testing.T) {
	cfg := minimalFlow()
	s := cfg.States["Start"]
	s.Transitions = append(s.Transitions, flow.Transition{OnIntent: flow.OnIntent{"GREET"}, To: "Ghost"})
	cfg.States["Start"] = s
	_, err := validate.Validate(cfg)
	require.Error(t, err)
}

func TestValidate_UnknownIntent(t *testing.T) {
	cfg := minimalFlow()
	s := cfg.States["Start"]
	s.Transitions[0].OnIntent = flow.OnIntent{"UNKNOWN"}
	cfg.States["Start"] = s
	_, err := validate.Validate(cfg)
	require.Error(t, err)
}

func TestValidate_UnreachableStateWarning(t *testing.T) {
	cfg := minimalFlow()
	cfg.States["Orphan"] = flow.StateSpec{OnEnter: []flow.Action{sayAction("unreachable")}}
	res, err := validate.Validate(cfg)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Orphan")
}

func TestValidate_TransitionMissingTrigger(t *testing.T) {
	cfg := minimalFlow()
	s := cfg.States["Start"]
	s.Transitions = append(s.Transitions, flow.Transition{To: "End"})
	cfg.States["Start"] = s
	_, err := validate.Validate(cfg)
	require.Error(t, err)
}

func TestValidate_BranchWinsOverToForReachability(t *testing.T) {
	cfg := minimalFlow()
	cfg.States["Alt"] = flow.StateSpec{OnEnter: []flow.Action{sayAction("alt")}}
	s := cfg.States["Start"]
	s.Transitions = []flow.Transition{
		{
			OnIntent: flow.OnIntent{"GREET"},
			To:       "End",
			Branch: []flow.Branch{
				{When: "else", To: "Alt"},
			},
		},
	}
	cfg.States["Start"] = s
	res, err := validate.Validate(cfg)
	require.NoError(t, err)
	// "End" is only reachable via the (losing) `to`, not the branch, so a
	// validator that honors "branch wins" must still count traversal through
	// the branch target and flag End as unreachable.
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "End") {
			found = true
		}
	}
	assert.True(t, found)
}
