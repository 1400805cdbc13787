package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/dialogforge/engine/telemetry"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

type (
	// ResultHandler receives the terminal outcome of a tool call: the
	// result of the first successful attempt, or the error once the
	// executor's safe wrapper has exhausted its retries. Implementations (the
	// orchestrator) re-enter the session lock to apply the result; this
	// decouples the package from the orchestrator to avoid an import
	// cycle.
	ResultHandler interface {
		HandleToolResult(ctx context.Context, sessionID, toolCallID, toolName string, result map[string]any)
		HandleToolError(ctx context.Context, sessionID, toolCallID, toolName string, err error)
	}

	// Executor runs tool.call actions asynchronously under a caller-assigned
	// call id: it races the worker against the tool's configured timeout
	// (retrying a fixed number of times on failure), and reports exactly
	// one terminal outcome to its ResultHandler. It never blocks the
	// orchestrator goroutine that triggered the call.
	Executor struct {
		registry   *Registry
		handler    ResultHandler
		logger     telemetry.Logger
		maxRetries int
		retryDelay time.Duration
	}

	// Option configures an Executor at construction.
	Option func(*Executor)
)

// WithMaxRetries overrides the default retry budget (3 attempts total).
func WithMaxRetries(n int) Option {
	return func(e *Executor) { e.maxRetries = n }
}

// WithRetryDelay overrides the fixed delay between retry attempts (1s).
func WithRetryDelay(d time.Duration) Option {
	return func(e *Executor) { e.retryDelay = d }
}

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor constructs an Executor over registry, reporting outcomes to handler.
func NewExecutor(registry *Registry, handler ResultHandler, opts ...Option) *Executor {
	e := &Executor{
		registry:   registry,
		handler:    handler,
		logger:     telemetry.NewNoopLogger(),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call launches execution of toolName under toolCallID (assigned by the
// caller before persisting the tool.call event, so the id in the event log
// matches the id the executor eventually reports back) in its own
// goroutine, returning immediately. timeout is the per-attempt budget
// (tools[name].timeout_ms, or defaultTimeout if nil).
func (e *Executor) Call(ctx context.Context, sessionID, toolCallID, toolName string, args map[string]any, timeout *time.Duration) {
	perAttempt := defaultTimeout
	if timeout != nil {
		perAttempt = *timeout
	}

	go e.run(ctx, sessionID, toolCallID, toolName, args, perAttempt)
}

func (e *Executor) run(ctx context.Context, sessionID, toolCallID, toolName string, args map[string]any, perAttempt time.Duration) {
	worker, err := e.registry.Lookup(toolName)
	if err != nil {
		e.handler.HandleToolError(ctx, sessionID, toolCallID, toolName, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		result, err := e.attempt(ctx, worker, sessionID, toolCallID, args, perAttempt)
		if err == nil {
			e.handler.HandleToolResult(ctx, sessionID, toolCallID, toolName, result)
			return
		}
		lastErr = err
		e.logger.Warn(ctx, "tool call attempt failed", "tool", toolName, "toolCallId", toolCallID, "attempt", attempt, "error", err)
		if attempt < e.maxRetries {
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				e.handler.HandleToolError(ctx, sessionID, toolCallID, toolName, ctx.Err())
				return
			}
		}
	}

	e.handler.HandleToolError(ctx, sessionID, toolCallID, toolName, fmt.Errorf("tool %q failed after %d attempts: %w", toolName, e.maxRetries, lastErr))
}

// attempt races worker.Execute against perAttempt, recovering from panics so
// a misbehaving worker cannot take down the orchestrator's goroutine pool.
func (e *Executor) attempt(ctx context.Context, worker Worker, sessionID, toolCallID string, args map[string]any, perAttempt time.Duration) (result map[string]any, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool worker panicked: %v", r)}
			}
		}()
		res, err := worker.Execute(attemptCtx, sessionID, toolCallID, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-attemptCtx.Done():
		return nil, fmt.Errorf("tool call timed out after %s", perAttempt)
	}
}
