package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dialogforge/engine/fanout"
	"github.com/dialogforge/engine/store"
)

func recvWithin(t *testing.T, ch <-chan store.Event, d time.Duration) store.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return evt
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return store.Event{}
	}
}

func TestHub_AttachDeliversSessionStartedFirst(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "reservation", 1, "InitialGreeting")
	require.NoError(t, err)

	hub := fanout.NewHub(st)
	sub, err := hub.Attach(ctx, "sess-1")
	require.NoError(t, err)
	defer sub.Close()

	evt := recvWithin(t, sub.Events(), time.Second)
	require.Equal(t, "session.started", evt.Type)
}

func TestHub_FanOutToMultipleObservers(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "reservation", 1, "InitialGreeting")
	require.NoError(t, err)

	hub := fanout.NewHub(st)
	subA, err := hub.Attach(ctx, "sess-1")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Attach(ctx, "sess-1")
	require.NoError(t, err)
	defer subB.Close()

	recvWithin(t, subA.Events(), time.Second)
	recvWithin(t, subB.Events(), time.Second)

	_, err = st.AppendEvent(ctx, "sess-1", store.Event{Type: "say", Payload: map[string]any{"text": "hi"}})
	require.NoError(t, err)

	evtA := recvWithin(t, subA.Events(), time.Second)
	evtB := recvWithin(t, subB.Events(), time.Second)
	require.Equal(t, "say", evtA.Type)
	require.Equal(t, "say", evtB.Type)
}

func TestHub_CloseDetachesObserver(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "reservation", 1, "InitialGreeting")
	require.NoError(t, err)

	hub := fanout.NewHub(st)
	sub, err := hub.Attach(ctx, "sess-1")
	require.NoError(t, err)
	recvWithin(t, sub.Events(), time.Second)

	sub.Close()

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok, "expected channel to be closed after Close")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after Close")
	}
}
