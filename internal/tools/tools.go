// ABOUTME: Tool definitions mapping MCP tool calls onto intranet API GETs.
// ABOUTME: Each tool declares its schema once; the catalog advertises and enforces it.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"

	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/intra"
)

// API is the subset of the intranet client the handlers need.
type API interface {
	Get(ctx context.Context, path string, q intra.Query) (json.RawMessage, error)
}

// projectStatuses are the values the intranet accepts for filter[status] on projects_users.
var projectStatuses = []string{
	"finished", "in_progress", "waiting_for_correction", "searching_a_group", "creating_group", "parent",
}

const maxPageSize = 100

// segmentPattern admits logins and slugs as a single path segment that never
// starts with a dot.
const segmentPattern = `^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`

var segmentRE = regexp.MustCompile(segmentPattern)

type toolDef struct {
	name        string
	description string
	schema      func() *catalog.Schema
	handler     func(h *handlers) catalog.ToolHandler
}

// toolDefs lists the tools in the order clients discover them. Schemas are
// built per registration so no schema value is shared between catalogs.
var toolDefs = []toolDef{
	{
		name:        "searchUsers",
		description: "Search intranet users by login. Returns up to 5 matches.",
		schema: func() *catalog.Schema {
			return catalog.Object(map[string]*catalog.Schema{
				"query": catalog.String("Login or login prefix to search for", catalog.Length(1, 50)),
			}, "query")
		},
		handler: func(h *handlers) catalog.ToolHandler { return h.searchUsers },
	},
	{
		name:        "getUser",
		description: "Get a user's full intranet profile by login.",
		schema:      loginSchema,
		handler:     func(h *handlers) catalog.ToolHandler { return h.getUser },
	},
	{
		name:        "getUserProjects",
		description: "List a user's project attempts, optionally filtered by status.",
		schema: func() *catalog.Schema {
			return catalog.Object(map[string]*catalog.Schema{
				"login":    loginProp(),
				"status":   catalog.String("Only return projects in this status", catalog.OneOf(projectStatuses...)),
				"pageSize": pageSizeProp(30),
			}, "login")
		},
		handler: func(h *handlers) catalog.ToolHandler { return h.getUserProjects },
	},
	{
		name:        "getUserCursus",
		description: "List a user's cursus enrollments with levels and skills.",
		schema:      loginSchema,
		handler:     func(h *handlers) catalog.ToolHandler { return h.getUserCursus },
	},
	{
		name:        "getUserLocations",
		description: "List a user's most recent workstation sessions.",
		schema: func() *catalog.Schema {
			return catalog.Object(map[string]*catalog.Schema{
				"login":    loginProp(),
				"pageSize": pageSizeProp(10),
			}, "login")
		},
		handler: func(h *handlers) catalog.ToolHandler { return h.getUserLocations },
	},
	{
		name:        "getUserCoalitions",
		description: "List the coalitions a user belongs to.",
		schema:      loginSchema,
		handler:     func(h *handlers) catalog.ToolHandler { return h.getUserCoalitions },
	},
	{
		name:        "listCampuses",
		description: "List campuses.",
		schema:      pageSizeSchema(30),
		handler:     func(h *handlers) catalog.ToolHandler { return h.listCampuses },
	},
	{
		name:        "getCampus",
		description: "Get one campus by id.",
		schema:      idSchema("campusId", "Campus id"),
		handler:     func(h *handlers) catalog.ToolHandler { return h.getCampus },
	},
	{
		name:        "getCampusEvents",
		description: "List a campus's events, newest first.",
		schema:      idPageSchema("campusId", "Campus id", 10),
		handler:     func(h *handlers) catalog.ToolHandler { return h.getCampusEvents },
	},
	{
		name:        "getCampusUsers",
		description: "List users attached to a campus.",
		schema:      idPageSchema("campusId", "Campus id", 30),
		handler:     func(h *handlers) catalog.ToolHandler { return h.getCampusUsers },
	},
	{
		name:        "getProject",
		description: "Get one project by slug.",
		schema: func() *catalog.Schema {
			return catalog.Object(map[string]*catalog.Schema{
				"slug": catalog.String("Project slug, e.g. libft", catalog.Length(1, 100), catalog.Pattern(segmentPattern)),
			}, "slug")
		},
		handler: func(h *handlers) catalog.ToolHandler { return h.getProject },
	},
	{
		name:        "listCursus",
		description: "List cursus.",
		schema:      pageSizeSchema(30),
		handler:     func(h *handlers) catalog.ToolHandler { return h.listCursus },
	},
	{
		name:        "getCursusProjects",
		description: "List the projects of a cursus, sorted by name.",
		schema:      idPageSchema("cursusId", "Cursus id", 30),
		handler:     func(h *handlers) catalog.ToolHandler { return h.getCursusProjects },
	},
}

// Register adds every tool and resource to cat, backed by api.
func Register(cat *catalog.Catalog, api API) error {
	h := &handlers{api: api}

	for _, def := range toolDefs {
		if err := cat.AddTool(def.name, def.description, def.schema(), def.handler(h)); err != nil {
			return fmt.Errorf("registering tool %s: %w", def.name, err)
		}
	}
	for _, res := range h.resources() {
		if err := cat.AddResource(res); err != nil {
			return fmt.Errorf("registering resource: %w", err)
		}
	}
	return nil
}

func loginProp() *catalog.Schema {
	return catalog.String("Intranet login", catalog.Length(1, 50), catalog.Pattern(segmentPattern))
}

func pageSizeProp(def int) *catalog.Schema {
	return catalog.Integer("Results per page", catalog.Between(1, maxPageSize), catalog.Default(def))
}

func loginSchema() *catalog.Schema {
	return catalog.Object(map[string]*catalog.Schema{"login": loginProp()}, "login")
}

func idProp(description string) *catalog.Schema {
	return catalog.Integer(description, catalog.Between(1, math.MaxInt32))
}

func pageSizeSchema(def int) func() *catalog.Schema {
	return func() *catalog.Schema {
		return catalog.Object(map[string]*catalog.Schema{"pageSize": pageSizeProp(def)})
	}
}

func idSchema(field, description string) func() *catalog.Schema {
	return func() *catalog.Schema {
		return catalog.Object(map[string]*catalog.Schema{
			field: idProp(description),
		}, field)
	}
}

func idPageSchema(field, description string, def int) func() *catalog.Schema {
	return func() *catalog.Schema {
		return catalog.Object(map[string]*catalog.Schema{
			field:      idProp(description),
			"pageSize": pageSizeProp(def),
		}, field)
	}
}

type handlers struct {
	api API
}

func (h *handlers) fetch(ctx context.Context, path string, q intra.Query) (string, error) {
	body, err := h.api.Get(ctx, path, q)
	if err != nil {
		return "", err
	}
	return indent(body), nil
}

func (h *handlers) searchUsers(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.Filter("login", catalog.StringArg(args, "query")).PageSize(5)
	return h.fetch(ctx, "/v2/users", q)
}

func (h *handlers) getUser(ctx context.Context, args map[string]any) (string, error) {
	return h.fetch(ctx, userPath(args), intra.Query{})
}

func (h *handlers) getUserProjects(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.
		Filter("status", catalog.StringArg(args, "status")).
		PageSize(catalog.IntArg(args, "pageSize"))
	return h.fetch(ctx, userPath(args)+"/projects_users", q)
}

func (h *handlers) getUserCursus(ctx context.Context, args map[string]any) (string, error) {
	return h.fetch(ctx, userPath(args)+"/cursus_users", intra.Query{})
}

func (h *handlers) getUserLocations(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize")).Sort("-begin_at")
	return h.fetch(ctx, userPath(args)+"/locations", q)
}

func (h *handlers) getUserCoalitions(ctx context.Context, args map[string]any) (string, error) {
	return h.fetch(ctx, userPath(args)+"/coalitions", intra.Query{})
}

func (h *handlers) listCampuses(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize")).Sort("id")
	return h.fetch(ctx, "/v2/campus", q)
}

func (h *handlers) getCampus(ctx context.Context, args map[string]any) (string, error) {
	return h.fetch(ctx, campusPath(catalog.IntArg(args, "campusId")), intra.Query{})
}

func (h *handlers) getCampusEvents(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize")).Sort("-begin_at")
	return h.fetch(ctx, campusPath(catalog.IntArg(args, "campusId"))+"/events", q)
}

func (h *handlers) getCampusUsers(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize"))
	return h.fetch(ctx, campusPath(catalog.IntArg(args, "campusId"))+"/users", q)
}

func (h *handlers) getProject(ctx context.Context, args map[string]any) (string, error) {
	return h.fetch(ctx, projectPath(catalog.StringArg(args, "slug")), intra.Query{})
}

func (h *handlers) listCursus(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize"))
	return h.fetch(ctx, "/v2/cursus", q)
}

func (h *handlers) getCursusProjects(ctx context.Context, args map[string]any) (string, error) {
	q := intra.Query{}.PageSize(catalog.IntArg(args, "pageSize")).Sort("name")
	path := "/v2/cursus/" + strconv.Itoa(catalog.IntArg(args, "cursusId")) + "/projects"
	return h.fetch(ctx, path, q)
}

func userPath(args map[string]any) string {
	return "/v2/users/" + url.PathEscape(catalog.StringArg(args, "login"))
}

func campusPath(id int) string {
	return "/v2/campus/" + strconv.Itoa(id)
}

func projectPath(slug string) string {
	return "/v2/projects/" + url.PathEscape(slug)
}

// indent pretty-prints JSON for the text payload, falling back to the raw bytes.
func indent(body json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}
