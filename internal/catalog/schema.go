// ABOUTME: Helpers for declaring tool input schemas as jsonschema values.
// ABOUTME: Property options cover lengths, bounds, patterns, enums and defaults.

package catalog

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is the JSON Schema type tools are declared with.
type Schema = jsonschema.Schema

// PropOption refines a property schema.
type PropOption func(*jsonschema.Schema)

// Object builds an object schema from its properties and required names.
func Object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// String builds a string property.
func String(description string, opts ...PropOption) *jsonschema.Schema {
	return prop("string", description, opts)
}

// Integer builds an integer property.
func Integer(description string, opts ...PropOption) *jsonschema.Schema {
	return prop("integer", description, opts)
}

func prop(typ, description string, opts []PropOption) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: typ, Description: description}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Length bounds a string's length.
func Length(minLen, maxLen int) PropOption {
	return func(s *jsonschema.Schema) {
		s.MinLength = ptr(minLen)
		s.MaxLength = ptr(maxLen)
	}
}

// Between bounds a number inclusively.
func Between(minVal, maxVal float64) PropOption {
	return func(s *jsonschema.Schema) {
		s.Minimum = ptr(minVal)
		s.Maximum = ptr(maxVal)
	}
}

// Pattern restricts a string to values matching the regular expression expr.
func Pattern(expr string) PropOption {
	return func(s *jsonschema.Schema) {
		s.Pattern = expr
	}
}

// OneOf restricts a property to the given values.
func OneOf(values ...string) PropOption {
	return func(s *jsonschema.Schema) {
		s.Enum = make([]any, len(values))
		for i, v := range values {
			s.Enum[i] = v
		}
	}
}

// Default sets the value used when the property is omitted.
func Default(v any) PropOption {
	return func(s *jsonschema.Schema) {
		raw, err := json.Marshal(v)
		if err != nil {
			panic("catalog: unencodable default: " + err.Error())
		}
		s.Default = raw
	}
}

func ptr[T any](v T) *T { return &v }
