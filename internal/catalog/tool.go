// ABOUTME: Registered tool type with argument parsing, defaults and schema validation.
// ABOUTME: Also holds the typed argument accessors handlers use.

package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationError reports tool arguments that do not satisfy the tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Tool is a named, schema-validated action. The same Schema value is both
// advertised to clients and used for validation.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     ToolHandler

	resolved    *jsonschema.Resolved
	inputSchema json.RawMessage
}

func newTool(name, description string, schema *jsonschema.Schema, handler ToolHandler) (*Tool, error) {
	if schema == nil {
		return nil, fmt.Errorf("tool %s: %w: nil schema", name, ErrInvalidSchema)
	}
	if schema.Type != "object" {
		return nil, fmt.Errorf("tool %s: %w: type must be object, got %q", name, ErrInvalidSchema, schema.Type)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w: %v", name, ErrInvalidSchema, err)
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encoding schema: %w", name, err)
	}

	return &Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler:     handler,
		resolved:    resolved,
		inputSchema: encoded,
	}, nil
}

// InputSchema returns the JSON encoding of the tool's schema.
func (t *Tool) InputSchema() json.RawMessage { return t.inputSchema }

// ParseArguments decodes raw tools/call arguments and validates them.
// Missing or null arguments are treated as an empty object.
func (t *Tool) ParseArguments(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &ValidationError{Tool: t.Name, Err: fmt.Errorf("arguments must be a JSON object: %w", err)}
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return t.Validate(args)
}

// Validate fills schema defaults into a copy of args and checks it against
// the schema. The returned map is what the handler receives.
func (t *Tool) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	maps.Copy(out, args)

	for name, prop := range t.Schema.Properties {
		if _, present := out[name]; present || len(prop.Default) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(prop.Default, &v); err != nil {
			return nil, &ValidationError{Tool: t.Name, Err: fmt.Errorf("default for %s: %w", name, err)}
		}
		out[name] = v
	}

	if err := t.resolved.Validate(out); err != nil {
		return nil, &ValidationError{Tool: t.Name, Err: err}
	}
	return out, nil
}

// StringArg returns args[key] as a string, or "" when absent.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// IntArg returns args[key] as an int, or 0 when absent, not a number, or
// not an integer that fits in an int.
func IntArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) || v < math.MinInt || v >= math.MaxInt {
			return 0
		}
		return int(v)
	case int:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil || int64(int(n)) != n {
			return 0
		}
		return int(n)
	}
	return 0
}
