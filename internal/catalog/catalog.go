// ABOUTME: Registry of MCP tools and resources exposed by the gateway.
// ABOUTME: Preserves registration order and resolves resource URIs against static entries and templates.

package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/yosida95/uritemplate/v3"
)

// Registration errors.
var (
	ErrDuplicateTool     = errors.New("duplicate tool name")
	ErrDuplicateResource = errors.New("duplicate resource uri")
	ErrInvalidTemplate   = errors.New("invalid uri template")
	ErrInvalidSchema     = errors.New("invalid input schema")
	ErrMissingHandler    = errors.New("missing handler")
)

// ToolHandler executes a tool with validated arguments and returns its text payload.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ResourceHandler reads a resource given the variables extracted from its URI.
type ResourceHandler func(ctx context.Context, vars map[string]string) (string, error)

// Resource describes a readable document. Exactly one of URI or URITemplate is set.
type Resource struct {
	URI         string
	URITemplate string
	Name        string
	Description string
	MIMEType    string
	Handler     ResourceHandler

	template *uritemplate.Template
}

// IsTemplate reports whether the resource is addressed by a URI template.
func (r *Resource) IsTemplate() bool { return r.URITemplate != "" }

// Catalog holds the registered tools and resources. Registration happens at
// startup; once serving begins the catalog is only read.
type Catalog struct {
	tools     []*Tool
	toolIndex map[string]*Tool

	static      []*Resource
	staticIndex map[string]*Resource
	templates   []*Resource
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		toolIndex:   make(map[string]*Tool),
		staticIndex: make(map[string]*Resource),
	}
}

// AddTool registers a tool. Its schema must be an object schema that resolves.
func (c *Catalog) AddTool(name, description string, schema *jsonschema.Schema, handler ToolHandler) error {
	if name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: %w", name, ErrMissingHandler)
	}
	if _, exists := c.toolIndex[name]; exists {
		return fmt.Errorf("tool %s: %w", name, ErrDuplicateTool)
	}

	tool, err := newTool(name, description, schema, handler)
	if err != nil {
		return err
	}

	c.tools = append(c.tools, tool)
	c.toolIndex[name] = tool
	return nil
}

// AddResource registers a resource. Entries with URITemplate set are matched
// in registration order after static URIs.
func (c *Catalog) AddResource(r Resource) error {
	if r.Handler == nil {
		return fmt.Errorf("resource %s%s: %w", r.URI, r.URITemplate, ErrMissingHandler)
	}
	if (r.URI == "") == (r.URITemplate == "") {
		return errors.New("resource needs exactly one of uri or uri template")
	}

	if !r.IsTemplate() {
		if _, exists := c.staticIndex[r.URI]; exists {
			return fmt.Errorf("resource %s: %w", r.URI, ErrDuplicateResource)
		}
		res := r
		c.static = append(c.static, &res)
		c.staticIndex[r.URI] = &res
		return nil
	}

	for _, existing := range c.templates {
		if existing.URITemplate == r.URITemplate {
			return fmt.Errorf("resource %s: %w", r.URITemplate, ErrDuplicateResource)
		}
	}

	tmpl, err := uritemplate.New(r.URITemplate)
	if err != nil {
		return fmt.Errorf("resource %s: %w: %v", r.URITemplate, ErrInvalidTemplate, err)
	}
	if len(tmpl.Varnames()) == 0 {
		return fmt.Errorf("resource %s: %w: no variables", r.URITemplate, ErrInvalidTemplate)
	}

	res := r
	res.template = tmpl
	c.templates = append(c.templates, &res)
	return nil
}

// ListTools returns tools in registration order.
func (c *Catalog) ListTools() []*Tool {
	out := make([]*Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Tool looks up a tool by name.
func (c *Catalog) Tool(name string) (*Tool, bool) {
	t, ok := c.toolIndex[name]
	return t, ok
}

// ListResources returns the static resources in registration order.
// Templates are not enumerated here since they need a concrete identifier.
func (c *Catalog) ListResources() []*Resource {
	out := make([]*Resource, len(c.static))
	copy(out, c.static)
	return out
}

// ListTemplates returns the templated resources in registration order.
func (c *Catalog) ListTemplates() []*Resource {
	out := make([]*Resource, len(c.templates))
	copy(out, c.templates)
	return out
}

// ResolveResource finds the resource serving uri. An exact static URI wins;
// otherwise the first template that matches with every variable non-empty.
func (c *Catalog) ResolveResource(uri string) (*Resource, map[string]string, bool) {
	if r, ok := c.staticIndex[uri]; ok {
		return r, map[string]string{}, true
	}

	for _, r := range c.templates {
		if vars, ok := matchTemplate(r.template, uri); ok {
			return r, vars, true
		}
	}
	return nil, nil, false
}

func matchTemplate(tmpl *uritemplate.Template, uri string) (map[string]string, bool) {
	values := tmpl.Match(uri)
	if values == nil {
		return nil, false
	}

	vars := make(map[string]string, len(tmpl.Varnames()))
	for _, name := range tmpl.Varnames() {
		v := values.Get(name).String()
		if v == "" {
			return nil, false
		}
		vars[name] = v
	}
	return vars, true
}
