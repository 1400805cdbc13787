// Package orchestrator implements the finite-state-machine driver
// (spec.md §4.7): enterState, processUserInput, and processToolResult, each
// running under the session's distributed lock so a session behaves as a
// single logical actor regardless of which process handles a given input.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dialogforge/engine/classify"
	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/schema"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/telemetry"
	"github.com/dialogforge/engine/tools"
)

type (
	// FlowProvider resolves the immutable flow definition bound to a
	// session. Flow definitions are co-located with the session record
	// conceptually, but are looked up by name/version here rather than
	// duplicated into every session, since SPEC_FULL.md's flowstore keeps
	// one durable copy per published version.
	FlowProvider interface {
		LoadFlow(ctx context.Context, name string, version int) (flow.Config, error)
	}

	// Orchestrator drives sessions through their bound flow. It holds only
	// the tool registry and classifier: session state, the event log, and
	// the lock all live in the store, per spec.md §4's ownership rule.
	Orchestrator struct {
		store      store.Store
		flows      FlowProvider
		classifier classify.Classifier
		executor   *tools.Executor
		schema     *schema.Validator
		logger     telemetry.Logger
		tracer     telemetry.Tracer
		metrics    telemetry.Metrics

		repromptMu   sync.Mutex
		reprompts    map[string]context.CancelFunc
		executorOpts []tools.Option
	}

	// Option configures an Orchestrator at construction.
	Option func(*Orchestrator)
)

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithTracer attaches a Tracer; defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithMetrics attaches a Metrics recorder; defaults to a no-op recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithToolExecutorOptions forwards options to the internal tools.Executor.
func WithToolExecutorOptions(opts ...tools.Option) Option {
	return func(o *Orchestrator) { o.executorOpts = append(o.executorOpts, opts...) }
}

// New constructs an Orchestrator bound to st, flows, classifier, and registry.
func New(st store.Store, flows FlowProvider, classifier classify.Classifier, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		flows:      flows,
		classifier: classifier,
		schema:     schema.New(),
		logger:     telemetry.NewNoopLogger(),
		tracer:     telemetry.NewNoopTracer(),
		metrics:    telemetry.NewNoopMetrics(),
		reprompts:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.executor = tools.NewExecutor(registry, o, o.executorOpts...)
	return o
}

// CreateSession creates a new session bound to flowName/flowVersion, enters
// its start state, and runs the start state's onEnter actions.
func (o *Orchestrator) CreateSession(ctx context.Context, sessionID, flowName string, flowVersion int) (store.SessionState, error) {
	cfg, err := o.flows.LoadFlow(ctx, flowName, flowVersion)
	if err != nil {
		return store.SessionState{}, fmt.Errorf("orchestrator: load flow: %w", err)
	}

	lock, err := o.store.Lock(ctx, sessionID)
	if err != nil {
		return store.SessionState{}, fmt.Errorf("orchestrator: acquire lock: %w", err)
	}
	defer o.releaseLock(ctx, lock)

	st, err := o.store.CreateSession(ctx, sessionID, flowName, flowVersion, cfg.Start)
	if err != nil {
		return store.SessionState{}, err
	}

	if err := o.runActions(ctx, &st, cfg, cfg.States[cfg.Start]); err != nil {
		return st, err
	}
	return st, nil
}

// GetSession returns the current session record without acquiring the lock;
// callers that need a consistent read-modify-write must go through
// ProcessUserInput/ProcessToolResult instead.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (store.SessionState, error) {
	return o.store.LoadSession(ctx, sessionID)
}

// DeleteSession drops all state for sessionID, including any pending soft
// re-prompt timer.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.cancelReprompt(sessionID)
	return o.store.DeleteSession(ctx, sessionID)
}

// EventsSince returns sessionID's logged events with seq > since, for the
// §6 "get events since" catch-up operation.
func (o *Orchestrator) EventsSince(ctx context.Context, sessionID string, since int64) ([]store.Event, error) {
	return o.store.EventsSince(ctx, sessionID, since)
}

func (o *Orchestrator) releaseLock(ctx context.Context, lock store.Lock) {
	if err := lock.Release(ctx); err != nil {
		o.logger.Warn(ctx, "failed to release session lock", "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if _, err := o.store.AppendEvent(ctx, sessionID, store.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Error(ctx, "failed to append event", "sessionId", sessionID, "type", eventType, "error", err)
	}
}
