// Package demoflow provides the reference reservation flow from the
// GLOSSARY and an in-memory tool registry that always succeeds, for the
// zero-setup "create demo session" operation (spec.md §6; SPEC_FULL.md
// §12). It is grounded on the teacher's embedded-template pattern
// (agents/codegen/templates.go) adapted from Go-template sources to a
// single embedded flow definition.
package demoflow

import (
	"context"
	"embed"
	"fmt"

	"github.com/dialogforge/engine/flow"
	"github.com/dialogforge/engine/tools"
)

//go:embed flows/reservation.yaml
var flowFS embed.FS

// Name is the flow name new demo sessions bind to.
const Name = "reservation"

// Load parses and returns the embedded reference reservation flow.
func Load() (flow.Config, error) {
	data, err := flowFS.ReadFile("flows/reservation.yaml")
	if err != nil {
		return flow.Config{}, fmt.Errorf("demoflow: read embedded flow: %w", err)
	}
	cfg, err := flow.LoadYAML(data)
	if err != nil {
		return flow.Config{}, fmt.Errorf("demoflow: parse embedded flow: %w", err)
	}
	return cfg, nil
}

// Registry returns a tool registry wired with always-succeeding demo
// workers for every tool the reference flow declares, so a demo session
// can run end-to-end without any external booking system configured.
func Registry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register("CheckAvailability", tools.WorkerFunc(checkAvailability))
	reg.Register("CreateReservation", tools.WorkerFunc(createReservation))
	return reg
}

func checkAvailability(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func createReservation(_ context.Context, _, _ string, args map[string]any) (map[string]any, error) {
	return map[string]any{"reservationId": fmt.Sprintf("demo-%v-%v", args["date"], args["time"])}, nil
}
