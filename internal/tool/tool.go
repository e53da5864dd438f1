// Package tool maps tool names to a parameter schema and a typed handler.
// Arguments are validated against the schema before a handler runs.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ankittk/orchestra/internal/llm"
)

// Parameter types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array" // of strings
	TypeObject  = "object"
)

// ErrUnknownTool is returned by Execute for a name that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Param describes one argument.
type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is the argument object of a tool.
type Schema struct {
	Properties map[string]Param
	Required   []string
}

// Tool is a named, schema-checked handler.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Execute     func(ctx context.Context, args Args) (string, error)
}

// Registry holds the tools of one agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a registry holding tools. Panics on a duplicate name.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool. Panics on duplicate or unnamed tools.
func (r *Registry) Register(t Tool) {
	if t.Name == "" || t.Execute == nil {
		panic("tool needs a name and an Execute func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tool already registered: %s", t.Name))
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Definitions returns the tool definitions passed to the model, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		out = append(out, llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Schema.JSON()})
	}
	return out
}

// Execute validates raw arguments against the tool's schema and runs it.
// Validation failures are errors; callers turn them into prompt text.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	args, err := t.Schema.Validate(raw)
	if err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return t.Execute(ctx, args)
}

// JSON renders the schema as a JSON Schema object.
func (s Schema) JSON() json.RawMessage {
	props := s.Properties
	if props == nil {
		props = map[string]Param{}
	}
	doc := map[string]any{"type": "object", "properties": props}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	return b
}

// Validate decodes raw into Args, checks required fields and types, and
// normalizes integers and string arrays. Unknown fields are dropped.
func (s Schema) Validate(raw json.RawMessage) (Args, error) {
	in := map[string]any{}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	for _, req := range s.Required {
		v, ok := in[req]
		if !ok || v == nil {
			return nil, fmt.Errorf("missing required argument %q", req)
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return nil, fmt.Errorf("argument %q must not be empty", req)
		}
	}
	out := make(Args, len(in))
	for name, v := range in {
		p, known := s.Properties[name]
		if !known || v == nil {
			continue
		}
		nv, err := coerce(p, v)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		out[name] = nv
	}
	return out, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return s, nil
	case TypeInteger:
		switch n := v.(type) {
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("want integer, got %v", n)
			}
			return int64(n), nil
		case string:
			var i int64
			if _, err := fmt.Sscan(strings.TrimSpace(n), &i); err != nil {
				return nil, fmt.Errorf("want integer, got %q", n)
			}
			return i, nil
		}
		return nil, fmt.Errorf("want integer, got %T", v)
	case TypeNumber:
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("want number, got %T", v)
		}
		return n, nil
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "yes":
				return true, nil
			case "false", "no":
				return false, nil
			}
		}
		return nil, fmt.Errorf("want boolean, got %v", v)
	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("want array, got %T", v)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("want array of strings, got %T element", it)
			}
			out = append(out, s)
		}
		return out, nil
	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("want object, got %T", v)
		}
		return m, nil
	}
	return v, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
