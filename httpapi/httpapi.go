// Package httpapi implements the §6 request surface over go-chi/chi: session
// lifecycle, user input, event catch-up, flow CRUD, and health. Handlers
// follow the corpus's plain encoding/json request/response idiom (see
// schardosin-astonish's pkg/api handlers) wired onto chi's router instead of
// bare net/http muxing, since chi is the teacher-pack's chosen mux for this
// shape of service.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dialogforge/engine/demoflow"
	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/flowstore"
	"github.com/dialogforge/engine/orchestrator"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/telemetry"
	"github.com/dialogforge/engine/validate"
)

// Server bundles the dependencies the §6 HTTP surface is implemented
// against.
type Server struct {
	orch       *orchestrator.Orchestrator
	flows      *flowstore.Store
	logger     telemetry.Logger
	corsOrigin string
	startedAt  time.Time
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Server) { s.logger = l } }

// WithCORSOrigin sets the Access-Control-Allow-Origin value for production
// deployments (spec.md §6 "CORS origin (production only)"). Empty disables
// CORS headers entirely.
func WithCORSOrigin(origin string) Option { return func(s *Server) { s.corsOrigin = origin } }

// NewServer constructs a Server bound to orch and flows.
func NewServer(orch *orchestrator.Orchestrator, flows *flowstore.Store, opts ...Option) *Server {
	s := &Server{orch: orch, flows: flows, logger: telemetry.NewNoopLogger(), startedAt: timeNow()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the chi router for the full §6 request surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if s.corsOrigin != "" {
		r.Use(s.cors)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Post("/demo", s.handleCreateDemoSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/input", s.handlePostUserInput)
			r.Get("/events", s.handleGetEvents)
		})
	})

	r.Route("/flows", func(r chi.Router) {
		r.Get("/", s.handleListFlows)
		r.Post("/", s.handleCreateFlow)
		r.Post("/validate", s.handleValidateFlow)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetFlowInfo)
			r.Put("/", s.handleUpdateFlow)
			r.Delete("/", s.handleDeleteFlow)
			r.Get("/versions", s.handleListFlowVersions)
			r.Post("/publish", s.handlePublishFlow)
		})
	})

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if _, err := s.orch.GetSession(r.Context(), "__healthcheck__"); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": timeNow(),
		"uptime":    timeNow().Sub(s.startedAt).String(),
	})
}

type createSessionRequest struct {
	SessionID   string       `json:"sessionId"`
	FlowName    string       `json:"flowName"`
	FlowVersion int          `json:"flowVersion"`
	Flow        *flow.Config `json:"flow,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flowName := req.FlowName
	flowVersion := req.FlowVersion

	if req.Flow != nil {
		if _, err := validate.Validate(*req.Flow); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := s.flows.Create(r.Context(), *req.Flow)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.flows.Publish(r.Context(), rec.Name, rec.Version); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		flowName = rec.Name
		flowVersion = rec.Version
	}

	if flowName == "" {
		writeError(w, http.StatusBadRequest, "flowName or flow is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	if _, err := s.orch.CreateSession(r.Context(), sessionID, flowName, flowVersion); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID})
}

func (s *Server) handleCreateDemoSession(w http.ResponseWriter, r *http.Request) {
	cfg, err := demoflow.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.flows.Get(r.Context(), cfg.Meta.Name, 0); errors.Is(err, flowstore.ErrNotFound) {
		rec, err := s.flows.Create(r.Context(), cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.flows.Publish(r.Context(), rec.Name, rec.Version); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	sessionID := newSessionID()
	if _, err := s.orch.CreateSession(r.Context(), sessionID, cfg.Meta.Name, 0); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID, "flow_name": cfg.Meta.Name})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	st, err := s.orch.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.orch.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type userInputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePostUserInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req userInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.orch.ProcessUserInput(r.Context(), sessionID, req.Text); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	since := parseSinceParam(r)
	events, err := s.orch.EventsSince(r.Context(), sessionID, since)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetFlowInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := s.flows.Get(r.Context(), name, 0)
	if errors.Is(err, flowstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	states := make([]string, 0, len(rec.Config.States))
	for name := range rec.Config.States {
		states = append(states, name)
	}
	intents := make([]string, 0, len(rec.Config.Intents))
	for name := range rec.Config.Intents {
		intents = append(intents, name)
	}
	tools := make([]string, 0, len(rec.Config.Tools))
	for name := range rec.Config.Tools {
		tools = append(tools, name)
	}

	resp := map[string]any{
		"meta":    rec.Config.Meta,
		"start":   rec.Config.Start,
		"states":  states,
		"intents": intents,
		"tools":   tools,
	}
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		if st, err := s.orch.GetSession(r.Context(), sessionID); err == nil {
			resp["session"] = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	recs, err := s.flows.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": recs})
}

func (s *Server) handleListFlowVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	recs, err := s.flows.ListVersions(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": recs})
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var cfg flow.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow definition")
		return
	}
	rec, err := s.flows.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var cfg flow.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow definition")
		return
	}
	rec, err := s.flows.Update(r.Context(), name, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.flows.Delete(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type publishFlowRequest struct {
	Version int `json:"version"`
}

func (s *Server) handlePublishFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req publishFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.flows.Publish(r.Context(), name, req.Version); err != nil {
		if errors.Is(err, flowstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "flow version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	var cfg flow.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow definition")
		return
	}
	result, err := validate.Validate(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": result.Warnings})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// timeNow is isolated so handlers are independently testable against a
// fixed clock if ever needed.
var timeNow = time.Now
