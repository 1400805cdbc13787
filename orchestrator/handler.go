package orchestrator

import "context"

// HandleToolResult implements tools.ResultHandler by re-entering the FSM
// driver through the same path a direct API call would use.
func (o *Orchestrator) HandleToolResult(ctx context.Context, sessionID, toolCallID, toolName string, result map[string]any) {
	if err := o.ProcessToolResult(ctx, sessionID, toolCallID, toolName, result); err != nil {
		o.logger.Error(ctx, "failed to process tool result", "sessionId", sessionID, "toolCallId", toolCallID, "tool", toolName, "error", err)
	}
}

// HandleToolError implements tools.ResultHandler for a tool call that never
// succeeded after the executor's retry budget. Per spec.md §9 scenario S6,
// this emits exactly one tool.error and leaves currentState untouched: no
// transition is evaluated here, only onToolResult transitions drive state
// changes.
func (o *Orchestrator) HandleToolError(ctx context.Context, sessionID, toolCallID, toolName string, callErr error) {
	lock, err := o.store.Lock(ctx, sessionID)
	if err != nil {
		o.logger.Error(ctx, "failed to acquire lock for tool error", "sessionId", sessionID, "toolCallId", toolCallID, "error", err)
		return
	}
	defer o.releaseLock(ctx, lock)

	o.emit(ctx, sessionID, "tool.error", map[string]any{
		"tool_call_id": toolCallID,
		"name":         toolName,
		"error":        callErr.Error(),
	})
}
