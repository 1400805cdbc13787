package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/template"
	"github.com/dialogforge/engine/value"
)

// runActions executes every onEnter action of state in declaration order,
// resolving templates against the session's current context and last tool
// result before each emission. A tool action is fire-and-forget: the
// executor runs the worker under its own timeout and re-enters the
// orchestrator via processToolResult on completion.
func (o *Orchestrator) runActions(ctx context.Context, st *store.SessionState, cfg flow.Config, state flow.StateSpec) error {
	for _, action := range state.OnEnter {
		env := template.Environments{Ctx: st.Context, Tool: st.LastToolResult}

		switch action.Kind() {
		case flow.ActionSay:
			o.emit(ctx, st.SessionID, "say", map[string]any{"text": resolveText(*action.Say, env)})
		case flow.ActionAsk:
			o.emit(ctx, st.SessionID, "ask", map[string]any{"text": resolveText(*action.Ask, env)})
		case flow.ActionTransfer:
			o.emit(ctx, st.SessionID, "transfer", map[string]any{"target": resolveText(*action.Transfer, env)})
		case flow.ActionHangup:
			o.emit(ctx, st.SessionID, "hangup", nil)
		case flow.ActionTool:
			if err := o.dispatchTool(ctx, st, cfg, action.Tool, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) dispatchTool(ctx context.Context, st *store.SessionState, cfg flow.Config, action *flow.ToolAction, env template.Environments) error {
	resolvedArgs, err := template.Resolve(action.Args, env)
	if err != nil {
		return err
	}
	args, _ := resolvedArgs.(map[string]any)

	toolCallID := uuid.NewString()

	spec := cfg.Tools[action.Name]
	if err := o.schema.ValidateArgs(action.Name, spec.ArgsSchema, args); err != nil {
		o.emit(ctx, st.SessionID, "tool.error", map[string]any{
			"tool_call_id": toolCallID,
			"name":         action.Name,
			"error":        err.Error(),
		})
		return nil
	}

	st.LastToolCallID = toolCallID
	if err := o.store.SaveSession(ctx, *st); err != nil {
		return err
	}
	o.emit(ctx, st.SessionID, "tool.call", map[string]any{
		"tool_call_id": toolCallID,
		"name":         action.Name,
		"args":         args,
	})

	var timeout *time.Duration
	if spec.TimeoutMS != nil {
		d := time.Duration(*spec.TimeoutMS) * time.Millisecond
		timeout = &d
	}
	// The call outlives ctx: ctx is the inbound request's context (HTTP
	// handler return, WS client disconnect), but a dispatched tool call must
	// run to completion and re-enter via processToolResult regardless of
	// whether the request that triggered it is still being served, per
	// spec.md §5. Detach the same way fanout.Hub.Attach detaches its relay
	// goroutine from the caller's ctx.
	o.executor.Call(context.Background(), st.SessionID, toolCallID, action.Name, args, timeout)
	return nil
}

func resolveText(tmpl string, env template.Environments) string {
	resolved, err := template.Resolve(tmpl, env)
	if err != nil {
		return tmpl
	}
	return value.Stringify(resolved)
}
