package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// ToolFunc executes a client tool. Input is the raw JSON argument
	// object produced by the model; the returned value is serialized as the
	// tool result content.
	ToolFunc func(ctx context.Context, input json.RawMessage) (any, error)

	// ToolSet holds the client-executed tools a Client can dispatch. Each
	// tool may carry a JSON schema; when present, inputs are validated
	// before the tool runs so a malformed model call surfaces as a tool
	// error the model can react to instead of a host-side panic.
	ToolSet struct {
		mu    sync.RWMutex
		tools map[string]clientTool
	}

	clientTool struct {
		fn     ToolFunc
		schema *jsonschema.Schema
	}
)

// NewToolSet returns an empty ToolSet.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]clientTool)}
}

// Register adds a tool under name. schemaJSON, when non-empty, is compiled
// as a JSON schema and used to validate every input before fn runs.
// Registering an existing name replaces the prior tool.
func (ts *ToolSet) Register(name string, schemaJSON []byte, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q: func is required", name)
	}
	var schema *jsonschema.Schema
	if len(schemaJSON) > 0 {
		var doc any
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			return fmt.Errorf("tool %q: unmarshal schema: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", doc); err != nil {
			return fmt.Errorf("tool %q: add schema resource: %w", name, err)
		}
		compiled, err := compiler.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", name, err)
		}
		schema = compiled
	}
	ts.mu.Lock()
	ts.tools[name] = clientTool{fn: fn, schema: schema}
	ts.mu.Unlock()
	return nil
}

// Names returns the registered tool names in unspecified order.
func (ts *ToolSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	names := make([]string, 0, len(ts.tools))
	for name := range ts.tools {
		names = append(names, name)
	}
	return names
}

// Execute validates input against the tool's schema (when one was
// registered) and runs it.
func (ts *ToolSet) Execute(ctx context.Context, name string, input json.RawMessage) (any, error) {
	ts.mu.RLock()
	tool, ok := ts.tools[name]
	ts.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if tool.schema != nil {
		var doc any
		if err := json.Unmarshal(input, &doc); err != nil {
			return nil, fmt.Errorf("tool %q: unmarshal input: %w", name, err)
		}
		if err := tool.schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("tool %q: invalid input: %w", name, err)
		}
	}
	return tool.fn(ctx, input)
}
