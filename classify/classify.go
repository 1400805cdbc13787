// Package classify defines the intent classifier port (spec.md §4.5) and a
// deterministic pattern-based fallback implementation.
package classify

import (
	"context"

	"github.com/dialogforge/engine/flow"
)

type (
	// Result is the classifier's output: the matched intent name, a
	// confidence in [0,1], and any slots extracted from the user text.
	Result struct {
		Intent     string
		Confidence float64
		Slots      map[string]any
	}

	// Classifier maps free-text user input to an intent. Implementations
	// may be deterministic (pattern-based, see Fallback) or remote (an LLM
	// or hosted NLU service); the orchestrator is correct under any
	// implementation satisfying this contract, since low confidence never
	// short-circuits transition matching — only declared `when` guards do.
	Classifier interface {
		Classify(ctx context.Context, text string, intents map[string]flow.Intent, sessionContext map[string]any) (Result, error)
	}
)
