package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/guard"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/template"
	"github.com/dialogforge/engine/value"
)

// ProcessUserInput classifies text, persists the resulting intent, and
// evaluates the current state's transitions in declaration order
// (first-match-wins), per spec.md §4.7.
func (o *Orchestrator) ProcessUserInput(ctx context.Context, sessionID, text string) error {
	lock, err := o.store.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: acquire lock: %w", err)
	}
	defer o.releaseLock(ctx, lock)

	o.cancelReprompt(sessionID)

	st, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	cfg, err := o.flows.LoadFlow(ctx, st.FlowName, st.FlowVersion)
	if err != nil {
		return err
	}
	state, ok := cfg.States[st.CurrentState]
	if !ok {
		return fmt.Errorf("orchestrator: session %q is in unknown state %q", sessionID, st.CurrentState)
	}

	result, err := o.classifier.Classify(ctx, text, cfg.Intents, st.Context)
	if err != nil {
		return fmt.Errorf("orchestrator: classify: %w", err)
	}

	// storeIntent: persisted but does not itself emit an event, mirroring
	// storeToolCall/storeToolResult/storeIntent in spec.md §4.4 (only
	// call/result mutations emit correlated events).
	st.LastIntent = &store.Intent{Name: result.Intent, Confidence: result.Confidence, Slots: result.Slots}
	if err := o.store.SaveSession(ctx, st); err != nil {
		return err
	}

	// Guards evaluate against the context *before* assignments, per
	// spec.md §4.7 and the Open Question it explicitly resolves.
	preAssignEnv := template.Environments{Ctx: st.Context}

	for _, tr := range state.Transitions {
		if !tr.IsIntentDriven() {
			continue
		}
		if !tr.OnIntent.Matches(result.Intent) {
			continue
		}
		if tr.When != "" {
			ok, err := guard.Eval(tr.When, preAssignEnv)
			if err != nil {
				o.logger.Warn(ctx, "guard evaluation failed", "when", tr.When, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		assignEnv := template.Environments{Ctx: st.Context, Slot: result.Slots}
		return o.executeTransition(ctx, &st, cfg, tr, assignEnv)
	}

	o.emit(ctx, sessionID, "intent.unhandled", map[string]any{
		"intent":       result.Intent,
		"confidence":   result.Confidence,
		"currentState": st.CurrentState,
	})
	o.scheduleReprompt(sessionID, st.FlowName, st.FlowVersion)
	return nil
}

// ProcessToolResult persists a tool call's result and evaluates the current
// state's transitions that match onToolResult against the just-completed
// tool's name, per spec.md §4.7.
func (o *Orchestrator) ProcessToolResult(ctx context.Context, sessionID, toolCallID, toolName string, result map[string]any) error {
	lock, err := o.store.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: acquire lock: %w", err)
	}
	defer o.releaseLock(ctx, lock)

	o.cancelReprompt(sessionID)

	st, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	cfg, err := o.flows.LoadFlow(ctx, st.FlowName, st.FlowVersion)
	if err != nil {
		return err
	}
	state, ok := cfg.States[st.CurrentState]
	if !ok {
		return fmt.Errorf("orchestrator: session %q is in unknown state %q", sessionID, st.CurrentState)
	}

	if spec, ok := cfg.Tools[toolName]; ok {
		if err := o.schema.ValidateResult(toolName, spec.ResultSchema, result); err != nil {
			o.emit(ctx, sessionID, "tool.error", map[string]any{
				"tool_call_id": toolCallID,
				"name":         toolName,
				"error":        err.Error(),
			})
			return nil
		}
	}

	st.LastToolResult = result
	if err := o.store.SaveSession(ctx, st); err != nil {
		return err
	}
	o.emit(ctx, sessionID, "tool.result", map[string]any{"tool_call_id": toolCallID, "result": result})

	for _, tr := range state.Transitions {
		if !tr.IsToolResultDriven() {
			continue
		}
		if tr.OnToolResult != toolName {
			continue
		}
		toolEnv := template.Environments{Ctx: st.Context, Tool: result}
		if tr.When != "" {
			ok, err := guard.Eval(tr.When, toolEnv)
			if err != nil {
				o.logger.Warn(ctx, "guard evaluation failed", "when", tr.When, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		return o.executeTransition(ctx, &st, cfg, tr, toolEnv)
	}

	// No matching transition: the FSM stays in its current state. Per
	// spec.md §9 S6, a tool.error (handled separately in handler.go) also
	// leaves currentState unchanged, so this is simply a no-op here.
	return nil
}

// executeTransition applies assign (if present), then resolves the target
// state via branch (winning over a sibling `to`, per the spec's explicit
// Open-Question resolution) or `to`, and enters it.
func (o *Orchestrator) executeTransition(ctx context.Context, st *store.SessionState, cfg flow.Config, tr flow.Transition, env template.Environments) error {
	from := st.CurrentState

	if len(tr.Assign) > 0 {
		resolved, err := template.Resolve(map[string]any(tr.Assign), env)
		if err != nil {
			return fmt.Errorf("orchestrator: resolve assign: %w", err)
		}
		patch, _ := resolved.(map[string]any)
		for path, v := range patch {
			st.Context = value.MergeAt(st.Context, path, v)
		}
		if err := o.store.SaveSession(ctx, *st); err != nil {
			return err
		}
		o.emit(ctx, st.SessionID, "state.updated", map[string]any{"ctx": st.Context})
	}

	target := tr.To
	if tr.HasBranch() {
		for _, b := range tr.Branch {
			ok, err := guard.Eval(b.When, template.Environments{Ctx: st.Context})
			if err != nil {
				o.logger.Warn(ctx, "branch guard evaluation failed", "when", b.When, "error", err)
				continue
			}
			if ok {
				target = b.To
				break
			}
		}
	}

	return o.transitionTo(ctx, st, cfg, from, target)
}

// transitionTo moves the session into to, emitting fsm.transition and then
// running the target state's onEnter actions.
func (o *Orchestrator) transitionTo(ctx context.Context, st *store.SessionState, cfg flow.Config, from, to string) error {
	st.CurrentState = to
	if err := o.store.SaveSession(ctx, *st); err != nil {
		return err
	}
	o.emit(ctx, st.SessionID, "fsm.transition", map[string]any{"from": from, "to": to})
	return o.runActions(ctx, st, cfg, cfg.States[to])
}

// scheduleReprompt implements the soft re-prompt described in spec.md
// §4.7: after ~1s, say a fixed nudge; after ~0.5s more, re-emit the
// current state's ask action (if any) with fresh template resolution.
// A later user input or tool result cancels any pending timer via
// cancelReprompt, and the timer tolerates the session having since been
// deleted (store lookups simply fail and the goroutine exits quietly).
func (o *Orchestrator) scheduleReprompt(sessionID, flowName string, flowVersion int) {
	ctx, cancel := context.WithCancel(context.Background())

	o.repromptMu.Lock()
	if existing, ok := o.reprompts[sessionID]; ok {
		existing()
	}
	o.reprompts[sessionID] = cancel
	o.repromptMu.Unlock()

	go func() {
		defer o.clearReprompt(sessionID, cancel)

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
		if lock, err := o.store.Lock(ctx, sessionID); err == nil {
			o.emit(ctx, sessionID, "say", map[string]any{"text": "I didn't quite understand that. Let me ask again:"})
			o.releaseLock(ctx, lock)
		}

		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return
		}

		lock, err := o.store.Lock(ctx, sessionID)
		if err != nil {
			// Session gone or unreachable: nothing left to re-prompt.
			return
		}
		defer o.releaseLock(ctx, lock)

		st, err := o.store.LoadSession(ctx, sessionID)
		if err != nil {
			return
		}
		cfg, err := o.flows.LoadFlow(ctx, flowName, flowVersion)
		if err != nil {
			return
		}
		state, ok := cfg.States[st.CurrentState]
		if !ok {
			return
		}
		for _, action := range state.OnEnter {
			if action.Kind() == flow.ActionAsk {
				env := template.Environments{Ctx: st.Context, Tool: st.LastToolResult}
				o.emit(ctx, sessionID, "ask", map[string]any{"text": resolveText(*action.Ask, env)})
				return
			}
		}
	}()
}

func (o *Orchestrator) cancelReprompt(sessionID string) {
	o.repromptMu.Lock()
	cancel, ok := o.reprompts[sessionID]
	delete(o.reprompts, sessionID)
	o.repromptMu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) clearReprompt(sessionID string, mine context.CancelFunc) {
	o.repromptMu.Lock()
	// Only clear the map entry if it is still the timer we scheduled; a
	// newer reprompt may have replaced it while we were sleeping.
	if current, ok := o.reprompts[sessionID]; ok && reflect.ValueOf(current).Pointer() == reflect.ValueOf(mine).Pointer() {
		delete(o.reprompts, sessionID)
	}
	o.repromptMu.Unlock()
}
