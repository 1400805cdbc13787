// Package schema validates tool call arguments and tool results against the
// JSON Schema documents flow authors attach to a ToolSpec's ArgsSchema and
// ResultSchema fields (spec.md §3). It is a thin cache over
// santhosh-tekuri/jsonschema/v6 compiled schemas, keyed by tool name so a
// session binding to the same flow repeatedly doesn't recompile on every
// call.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches JSON Schema documents per tool.
type Validator struct {
	compiler *jsonschema.Compiler

	mu     sync.Mutex
	args   map[string]*jsonschema.Schema
	result map[string]*jsonschema.Schema
}

// New constructs an empty Validator.
func New() *Validator {
	return &Validator{
		compiler: jsonschema.NewCompiler(),
		args:     make(map[string]*jsonschema.Schema),
		result:   make(map[string]*jsonschema.Schema),
	}
}

// ValidateArgs checks args against toolName's argument schema. A nil or
// empty raw schema means the tool declared no argument contract, so every
// call passes.
func (v *Validator) ValidateArgs(toolName string, rawSchema json.RawMessage, args map[string]any) error {
	return v.validate(v.args, "args:"+toolName, rawSchema, args)
}

// ValidateResult checks result against toolName's result schema, under the
// same no-schema-means-no-constraint rule as ValidateArgs.
func (v *Validator) ValidateResult(toolName string, rawSchema json.RawMessage, result map[string]any) error {
	return v.validate(v.result, "result:"+toolName, rawSchema, result)
}

func (v *Validator) validate(cache map[string]*jsonschema.Schema, key string, rawSchema json.RawMessage, instance map[string]any) error {
	if len(rawSchema) == 0 {
		return nil
	}

	v.mu.Lock()
	sch, ok := cache[key]
	if !ok {
		compiled, err := v.compile(key, rawSchema)
		if err != nil {
			v.mu.Unlock()
			return fmt.Errorf("schema: compile %s: %w", key, err)
		}
		cache[key] = compiled
		sch = compiled
	}
	v.mu.Unlock()

	// jsonschema validates against any-typed values produced by its own
	// UnmarshalJSON, so round-trip the already-decoded instance through it
	// rather than assuming map[string]any matches its expected number types.
	normalized, err := jsonschema.UnmarshalJSON(bytes.NewReader(mustMarshal(instance)))
	if err != nil {
		return fmt.Errorf("schema: normalize instance: %w", err)
	}
	if err := sch.Validate(normalized); err != nil {
		return fmt.Errorf("schema: %s: %w", key, err)
	}
	return nil
}

func (v *Validator) compile(key string, rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		return nil, err
	}
	resourceURL := "mem://" + key
	if err := v.compiler.AddResource(resourceURL, doc); err != nil {
		return nil, err
	}
	return v.compiler.Compile(resourceURL)
}

func mustMarshal(v map[string]any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
