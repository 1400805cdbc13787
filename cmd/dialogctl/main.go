package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dialogforge/engine/classify"
	"github.com/dialogforge/engine/demoflow"
	"github.com/dialogforge/engine/fanout"
	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/flowstore"
	"github.com/dialogforge/engine/httpapi"
	"github.com/dialogforge/engine/orchestrator"
	"github.com/dialogforge/engine/store"
	"github.com/dialogforge/engine/telemetry"
	"github.com/dialogforge/engine/validate"
	"github.com/dialogforge/engine/wsapi"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dialogctl",
		Short:        "dialogctl runs and inspects conversational flow orchestrator sessions",
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildValidateCmd(), buildDemoCmd())
	return root
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// buildServeCmd wires the full engine: a session store (Redis, or an
// in-memory fallback for local runs), the SQLite-backed flow store seeded
// with the bundled reservation flow, the deterministic fallback classifier,
// the orchestrator, the fan-out hub, and the HTTP and WebSocket front ends.
func buildServeCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP API port")
	flags.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "WebSocket streaming port")
	flags.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Allowed CORS origin (empty disables CORS headers)")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis connection URL for the session store (empty uses an in-process store)")
	flags.StringVar(&cfg.FlowStoreDSN, "flowstore-dsn", cfg.FlowStoreDSN, "SQLite DSN for the flow definition store")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	zapLogger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLogger.Sync()
	logger := telemetry.NewZapLogger(zapLogger)

	sessionStore, closeStore, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	flows, err := flowstore.Open(cfg.FlowStoreDSN)
	if err != nil {
		return fmt.Errorf("open flow store: %w", err)
	}
	defer flows.Close()

	if err := seedDemoFlow(ctx, flows); err != nil {
		return fmt.Errorf("seed bundled flow: %w", err)
	}

	orch := orchestrator.New(sessionStore, flows, classify.NewFallback(), demoflow.Registry(),
		orchestrator.WithLogger(logger))
	hub := fanout.NewHub(sessionStore)

	httpSrv := httpapi.NewServer(orch, flows, httpapi.WithLogger(logger), httpapi.WithCORSOrigin(cfg.CORSOrigin))
	wsSrv := wsapi.NewServer(orch, hub, wsapi.WithLogger(logger))

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: httpSrv.Routes()}
	wsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WSPort), Handler: buildWSRouter(wsSrv)}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	go func() {
		logger.Info(runCtx, "http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
			return
		}
		errc <- nil
	}()
	go func() {
		logger.Info(runCtx, "websocket server listening", "addr", wsServer.Addr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("ws server: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case <-runCtx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = wsServer.Shutdown(shutdownCtx)
	return nil
}

// buildWSRouter maps /ws/{sessionId} to the per-session websocket handler;
// wsapi.Server hands back a handler scoped to one session at a time, so the
// router's only job is pulling that id out of the path.
func buildWSRouter(wsSrv *wsapi.Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		wsSrv.Handler(sessionID).ServeHTTP(w, r)
	})
	return r
}

func openSessionStore(cfg Config) (store.Store, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return store.NewMemory(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return store.NewRedis(client), func() { client.Close() }, nil
}

func seedDemoFlow(ctx context.Context, flows *flowstore.Store) error {
	existing, err := flows.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range existing {
		if rec.Name == demoflow.Name {
			return nil
		}
	}
	cfg, err := demoflow.Load()
	if err != nil {
		return err
	}
	rec, err := flows.Create(ctx, cfg)
	if err != nil {
		return err
	}
	return flows.Publish(ctx, rec.Name, rec.Version)
}

// buildValidateCmd loads a flow definition from disk and reports every
// structural error and reachability warning validate.Validate finds,
// without touching any store or starting a server.
func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flow.yaml]",
		Short: "Validate a flow definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := flow.LoadYAML(data)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			result, err := validate.Validate(cfg)
			out := cmd.OutOrStdout()
			if err != nil {
				var verr *validate.Error
				if errors.As(err, &verr) {
					fmt.Fprintln(out, "Errors:")
					for _, msg := range verr.Issues {
						fmt.Fprintf(out, "  - %s\n", msg)
					}
					return fmt.Errorf("flow is invalid")
				}
				return err
			}
			if len(result.Warnings) == 0 {
				fmt.Fprintln(out, "Flow is valid, no warnings.")
				return nil
			}
			fmt.Fprintln(out, "Flow is valid, with warnings:")
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "  - %s\n", w)
			}
			return nil
		},
	}
}

// buildDemoCmd runs the bundled reservation flow end to end against an
// ephemeral in-memory session, printing say/ask/transfer/hangup events and
// reading replies from stdin until the flow reaches a terminal state.
func buildDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the bundled reservation flow interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runDemo(ctx context.Context, out io.Writer) error {
	sessionStore := store.NewMemory()
	flows, err := flowstore.Open(":memory:")
	if err != nil {
		return err
	}
	defer flows.Close()
	if err := seedDemoFlow(ctx, flows); err != nil {
		return err
	}

	orch := orchestrator.New(sessionStore, flows, classify.NewFallback(), demoflow.Registry())
	sessionID := "demo-" + time.Now().UTC().Format("150405")
	if _, err := orch.CreateSession(ctx, sessionID, demoflow.Name, 0); err != nil {
		return fmt.Errorf("create demo session: %w", err)
	}

	var lastSeq int64
	printNewEvents := func() bool {
		events, err := orch.EventsSince(ctx, sessionID, lastSeq)
		if err != nil {
			return false
		}
		ended := false
		for _, evt := range events {
			lastSeq = evt.Seq
			printEvent(out, evt.Type, evt.Payload)
			if evt.Type == "hangup" || evt.Type == "transfer" {
				ended = true
			}
		}
		return ended
	}
	if printNewEvents() {
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := orch.ProcessUserInput(ctx, sessionID, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if printNewEvents() {
			break
		}
	}
	return nil
}

func printEvent(out io.Writer, eventType string, payload map[string]any) {
	switch eventType {
	case "say":
		fmt.Fprintf(out, "bot: %v\n", payload["text"])
	case "ask":
		fmt.Fprintf(out, "bot: %v\n", payload["text"])
	case "transfer":
		fmt.Fprintf(out, "bot: transferring to %v\n", payload["target"])
	case "hangup":
		fmt.Fprintln(out, "bot: (call ended)")
	case "tool.call":
		fmt.Fprintf(out, "... calling %v\n", payload["name"])
	case "tool.error":
		fmt.Fprintf(out, "... %v failed: %v\n", payload["name"], payload["error"])
	}
}
