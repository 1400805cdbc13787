// Package wsapi implements the §6 streaming (live observer) contract over
// gorilla/websocket: on attach the server sends session.started, replays
// any events the client missed since its last acknowledged seq, then
// relays live events off the fanout hub. Client frames drive user input
// into the orchestrator; unknown frames get an error response, per spec.
package wsapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialogforge/engine/fanout"
	"github.com/dialogforge/engine/orchestrator"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/telemetry"
)

type (
	// Server upgrades HTTP connections to websocket streams, one per
	// session attachment.
	Server struct {
		orch    *orchestrator.Orchestrator
		hub     *fanout.Hub
		logger  telemetry.Logger
		upgrade websocket.Upgrader
	}

	// Option configures a Server at construction.
	Option func(*Server)

	// clientFrame is the envelope for the three client -> server frame
	// kinds spec.md §6 defines.
	clientFrame struct {
		Type   string `json:"type"`
		Text   string `json:"text,omitempty"`
		Digits string `json:"digits,omitempty"`
	}

	serverEvent struct {
		Type      string         `json:"type"`
		SessionID string         `json:"sessionId"`
		Seq       int64          `json:"seq,omitempty"`
		Timestamp time.Time      `json:"timestamp,omitempty"`
		Payload   map[string]any `json:"payload,omitempty"`
	}
)

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Server) { s.logger = l } }

// NewServer constructs a Server bound to orch and hub.
func NewServer(orch *orchestrator.Orchestrator, hub *fanout.Hub, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		hub:    hub,
		logger: telemetry.NewNoopLogger(),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler upgrades the connection for sessionID and drives the stream
// until the client disconnects.
func (s *Server) Handler(sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrade.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn(r.Context(), "websocket upgrade failed", "sessionId", sessionID, "error", err)
			return
		}
		defer conn.Close()

		sub, err := s.hub.Attach(r.Context(), sessionID)
		if err != nil {
			conn.WriteJSON(serverEvent{Type: "error", Payload: map[string]any{"message": err.Error()}})
			return
		}
		defer sub.Close()

		// Attach queues session.started as the first event on the
		// subscription; send it ahead of the catch-up replay.
		if started, ok := <-sub.Events(); ok {
			if err := conn.WriteJSON(toServerEvent(started)); err != nil {
				return
			}
		}

		since := parseSinceQuery(r)
		if caughtUp, err := s.orch.EventsSince(r.Context(), sessionID, since); err == nil {
			for _, evt := range caughtUp {
				if writeErr := conn.WriteJSON(toServerEvent(evt)); writeErr != nil {
					return
				}
			}
		}

		done := make(chan struct{})
		go s.relay(conn, sub, done)
		s.readLoop(r, conn, sessionID)
		close(done)
	}
}

func (s *Server) relay(conn *websocket.Conn, sub fanout.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(toServerEvent(evt)); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(r *http.Request, conn *websocket.Conn, sessionID string) {
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "user.text":
			if err := s.orch.ProcessUserInput(r.Context(), sessionID, frame.Text); err != nil {
				conn.WriteJSON(serverEvent{Type: "error", Payload: map[string]any{"message": err.Error()}})
			}
		case "user.dtmf":
			if err := s.orch.ProcessUserInput(r.Context(), sessionID, frame.Digits); err != nil {
				conn.WriteJSON(serverEvent{Type: "error", Payload: map[string]any{"message": err.Error()}})
			}
		case "client.cancel":
			return
		default:
			conn.WriteJSON(serverEvent{Type: "error", Payload: map[string]any{"message": "unknown frame type: " + frame.Type}})
		}
	}
}

func toServerEvent(evt store.Event) serverEvent {
	return serverEvent{Type: evt.Type, SessionID: evt.SessionID, Seq: evt.Seq, Timestamp: evt.Timestamp, Payload: evt.Payload}
}

func parseSinceQuery(r *http.Request) int64 {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return since
}
