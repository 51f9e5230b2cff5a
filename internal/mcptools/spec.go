// Package mcptools exposes the coordinator as a named tool catalog shared
// by the stdio MCP server and the SSE gateway.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Dispatch-level failures. Application failures never surface here; they
// are embedded as {success:false} payloads instead.
var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid arguments")
)

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string   `json:"type"` // "string", "number", "boolean", "integer", "array"
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Items       string   `json:"items,omitempty"` // element type for arrays
}

// ToolSpec describes one tool's interface.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// Handler executes a tool call with validated arguments. The returned map
// is serialized as the tool's JSON result.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry holds the tool catalog and dispatches calls. Both transports
// consume the same registry, so stdio and SSE expose identical tools.
type Registry struct {
	specs    map[string]*ToolSpec
	handlers map[string]Handler
	order    []string
	timeout  time.Duration
}

// NewRegistry creates an empty registry. timeout bounds each tool call.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		specs:    make(map[string]*ToolSpec),
		handlers: make(map[string]Handler),
		timeout:  timeout,
	}
}

// Register adds a tool to the catalog.
func (r *Registry) Register(spec *ToolSpec, handler Handler) {
	if _, exists := r.specs[spec.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", spec.Name))
	}
	r.specs[spec.Name] = spec
	r.handlers[spec.Name] = handler
	r.order = append(r.order, spec.Name)
}

// ToolNames returns the catalog in registration order.
func (r *Registry) ToolNames() []string {
	return append([]string(nil), r.order...)
}

// Spec returns the spec for a tool, or nil.
func (r *Registry) Spec(name string) *ToolSpec {
	return r.specs[name]
}

// Call validates the raw arguments against the tool's schema, runs the
// handler under the registry deadline, and returns the JSON-encoded result
// text. Errors are dispatch-level only.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (string, error) {
	spec, ok := r.specs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args := make(map[string]any)
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}
	if err := validateArgs(spec, args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.handlers[name](ctx, args)
	if err != nil {
		// Handlers report application failures in the payload; an error
		// here means the handler itself could not run to completion.
		return "", err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result for %s: %w", name, err)
	}
	return string(data), nil
}

// validateArgs checks required fields and field types against the spec.
func validateArgs(spec *ToolSpec, args map[string]any) error {
	var missing []string
	for name, p := range spec.Parameters {
		v, present := args[name]
		if !present {
			if p.Required {
				missing = append(missing, name)
			}
			continue
		}
		if err := checkType(name, p, v); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required arguments: %v", missing)
	}
	for name := range args {
		if _, known := spec.Parameters[name]; !known {
			return fmt.Errorf("unknown argument %q", name)
		}
	}
	return nil
}

func checkType(name string, p ParamSpec, v any) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return fmt.Errorf("argument %q must be one of %v", name, p.Enum)
		}
	case "number", "integer":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
		if p.Items == "string" {
			for _, item := range items {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("argument %q must contain only strings", name)
				}
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// stringArg returns args[key] as a string, or "".
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg returns args[key] as an int, or 0.
func intArg(args map[string]any, key string) int {
	f, _ := args[key].(float64)
	return int(f)
}

// stringSliceArg returns args[key] as a []string.
func stringSliceArg(args map[string]any, key string) []string {
	items, _ := args[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
