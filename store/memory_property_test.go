package store_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dialogforge/engine/store"
)

// TestMemoryProperty_AppendEventSeqStrictlyIncreases verifies spec.md §8's
// sequence-number invariant: for any session, repeated AppendEvent calls
// return a strictly increasing, gap-free sequence starting at 1, regardless
// of how many events are appended or what event types they carry.
func TestMemoryProperty_AppendEventSeqStrictlyIncreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("seq is 1, 2, 3, ... with no gaps or repeats", prop.ForAll(
		func(eventTypes []string) bool {
			ctx := context.Background()
			m := store.NewMemory()
			_, err := m.CreateSession(ctx, "sess", "flow", 1, "Start")
			if err != nil {
				return false
			}

			var prev int64
			for _, et := range eventTypes {
				seq, err := m.AppendEvent(ctx, "sess", store.Event{Type: et})
				if err != nil {
					return false
				}
				if seq != prev+1 {
					return false
				}
				prev = seq
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("say", "ask", "tool.call", "tool.result", "fsm.transition")),
	))

	properties.TestingRun(t)
}

// TestMemoryProperty_EventsSinceReturnsExactTail verifies EventsSince(since)
// returns exactly the events with seq > since, in their original order, for
// any cutoff within or beyond the logged range.
func TestMemoryProperty_EventsSinceReturnsExactTail(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("EventsSince(since) is exactly the tail after seq==since", prop.ForAll(
		func(count int, since int64) bool {
			ctx := context.Background()
			m := store.NewMemory()
			_, err := m.CreateSession(ctx, "sess", "flow", 1, "Start")
			if err != nil {
				return false
			}
			for i := 0; i < count; i++ {
				if _, err := m.AppendEvent(ctx, "sess", store.Event{Type: "say"}); err != nil {
					return false
				}
			}

			got, err := m.EventsSince(ctx, "sess", since)
			if err != nil {
				return false
			}

			// Seqs start at 1, so a negative cutoff selects the same
			// events as a cutoff of 0.
			cutoff := since
			if cutoff < 0 {
				cutoff = 0
			}
			wantCount := int64(count) - cutoff
			if wantCount < 0 {
				wantCount = 0
			}
			if int64(len(got)) != wantCount {
				return false
			}
			for i, evt := range got {
				if evt.Seq != cutoff+int64(i)+1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 30),
		gen.Int64Range(-5, 30),
	))

	properties.TestingRun(t)
}

// TestMemoryProperty_LockExcludesConcurrentHolders verifies the in-memory
// Lock never allows two goroutines to hold the same session's lock at once,
// for any number of contending goroutines (spec.md §4's single-logical-actor
// guarantee).
func TestMemoryProperty_LockExcludesConcurrentHolders(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("no two goroutines observe the lock held simultaneously", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			m := store.NewMemory()
			_, err := m.CreateSession(ctx, "sess", "flow", 1, "Start")
			if err != nil {
				return false
			}

			var held int32
			var sawOverlap int32
			done := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				go func() {
					defer func() { done <- struct{}{} }()
					lock, err := m.Lock(ctx, "sess")
					if err != nil {
						return
					}
					if held != 0 {
						sawOverlap = 1
					}
					held = 1
					held = 0
					_ = lock.Release(ctx)
				}()
			}
			for i := 0; i < n; i++ {
				<-done
			}
			return sawOverlap == 0
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
