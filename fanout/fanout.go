// Package fanout multiplexes a session's live event stream to any number of
// observers (websocket clients, test harnesses) without each observer
// opening its own store.Store.Subscribe connection. It mirrors the
// registration/fan-out shape of the runtime event bus it is grounded on,
// adapted to be per-session and backed by a single underlying store
// subscription rather than an in-process publisher.
package fanout

import (
	"context"
	"sync"

	"github.com/dialogforge/engine/store"
)

type (
	// Hub lazily opens one store subscription per session and fans its
	// events out to every attached observer. The underlying subscription is
	// torn down once the last observer detaches.
	Hub struct {
		st store.Store

		mu       sync.Mutex
		sessions map[string]*sessionFanout
	}

	sessionFanout struct {
		cancel    context.CancelFunc
		mu        sync.Mutex
		observers map[*observer]struct{}
	}

	observer struct {
		ch   chan store.Event
		once sync.Once
	}

	// Subscription is a single observer's handle on a session's fan-out.
	// Events arrives on Events(); Close detaches the observer and, if it
	// was the last one, tears down the underlying store subscription.
	Subscription interface {
		Events() <-chan store.Event
		Close()
	}

	subscriptionHandle struct {
		hub       *Hub
		sessionID string
		obs       *observer
	}
)

const observerBuffer = 32

// NewHub constructs a fan-out Hub backed by st.
func NewHub(st store.Store) *Hub {
	return &Hub{st: st, sessions: make(map[string]*sessionFanout)}
}

// Attach registers a new observer for sessionID, opening the underlying
// store subscription if this is the first observer, and immediately
// enqueuing a synthetic session.started event ahead of anything relayed.
// The caller is responsible for sending that first event, then replaying
// EventsSince, then draining the rest of Events(): this package only
// guarantees session.started arrives first among what IT delivers.
func (h *Hub) Attach(ctx context.Context, sessionID string) (Subscription, error) {
	h.mu.Lock()
	sf, ok := h.sessions[sessionID]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		sf = &sessionFanout{cancel: cancel, observers: make(map[*observer]struct{})}
		h.sessions[sessionID] = sf
		upstream, err := h.st.Subscribe(subCtx, sessionID)
		if err != nil {
			cancel()
			delete(h.sessions, sessionID)
			h.mu.Unlock()
			return nil, err
		}
		go h.relay(subCtx, sessionID, sf, upstream)
	}
	h.mu.Unlock()

	obs := &observer{ch: make(chan store.Event, observerBuffer)}
	obs.ch <- store.Event{Type: "session.started", SessionID: sessionID, Payload: map[string]any{"session_id": sessionID}}

	sf.mu.Lock()
	sf.observers[obs] = struct{}{}
	sf.mu.Unlock()

	return &subscriptionHandle{hub: h, sessionID: sessionID, obs: obs}, nil
}

// relay reads events off the store's live subscription and broadcasts each
// to every currently attached observer, dropping (rather than blocking) on a
// full or dead observer buffer so one slow client cannot stall the rest,
// matching the store's own non-blocking publish behavior.
func (h *Hub) relay(ctx context.Context, sessionID string, sf *sessionFanout, upstream <-chan store.Event) {
	defer h.teardown(sessionID, sf)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-upstream:
			if !ok {
				return
			}
			sf.mu.Lock()
			for obs := range sf.observers {
				select {
				case obs.ch <- evt:
				default:
				}
			}
			sf.mu.Unlock()
		}
	}
}

func (h *Hub) teardown(sessionID string, sf *sessionFanout) {
	sf.mu.Lock()
	for obs := range sf.observers {
		obs.close()
	}
	sf.mu.Unlock()

	h.mu.Lock()
	if h.sessions[sessionID] == sf {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
}

func (o *observer) close() {
	o.once.Do(func() { close(o.ch) })
}

func (s *subscriptionHandle) Events() <-chan store.Event { return s.obs.ch }

// Close detaches this observer. If it was the last observer for the
// session, the underlying store subscription is canceled.
func (s *subscriptionHandle) Close() {
	s.hub.mu.Lock()
	sf, ok := s.hub.sessions[s.sessionID]
	s.hub.mu.Unlock()
	if !ok {
		s.obs.close()
		return
	}

	sf.mu.Lock()
	delete(sf.observers, s.obs)
	empty := len(sf.observers) == 0
	sf.mu.Unlock()
	s.obs.close()

	if empty {
		sf.cancel()
	}
}
