// ABOUTME: Tests for the intranet tool and resource definitions.
// ABOUTME: Verifies each tool's upstream path and query against a recording fake API.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/intra"
)

type recordedCall struct {
	path  string
	query string
}

// fakeAPI records calls and replies with a fixed body.
type fakeAPI struct {
	calls []recordedCall
	body  json.RawMessage
	err   error
}

func (f *fakeAPI) Get(_ context.Context, path string, q intra.Query) (json.RawMessage, error) {
	f.calls = append(f.calls, recordedCall{path: path, query: q.Encode()})
	if f.err != nil {
		return nil, f.err
	}
	if f.body == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.body, nil
}

func newCatalog(t *testing.T, api API) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, Register(cat, api))
	return cat
}

func callTool(t *testing.T, cat *catalog.Catalog, name, args string) (string, error) {
	t.Helper()
	tool, ok := cat.Tool(name)
	require.True(t, ok, "tool %s registered", name)
	parsed, err := tool.ParseArguments(json.RawMessage(args))
	require.NoError(t, err)
	return tool.Handler(context.Background(), parsed)
}

func TestRegister_ToolOrder(t *testing.T) {
	cat := newCatalog(t, &fakeAPI{})

	var names []string
	for _, tool := range cat.ListTools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"searchUsers", "getUser", "getUserProjects", "getUserCursus", "getUserLocations",
		"getUserCoalitions", "listCampuses", "getCampus", "getCampusEvents", "getCampusUsers",
		"getProject", "listCursus", "getCursusProjects",
	}, names)
}

func TestRegister_TwiceIntoSeparateCatalogs(t *testing.T) {
	newCatalog(t, &fakeAPI{})
	newCatalog(t, &fakeAPI{})
}

func TestTools_UpstreamRequests(t *testing.T) {
	tests := []struct {
		tool      string
		args      string
		wantPath  string
		wantQuery string
	}{
		{"searchUsers", `{"query":"jd"}`, "/v2/users", "filter[login]=jd&page[size]=5"},
		{"getUser", `{"login":"jdoe"}`, "/v2/users/jdoe", ""},
		{"getUserProjects", `{"login":"jdoe"}`, "/v2/users/jdoe/projects_users", "page[size]=30"},
		{"getUserProjects", `{"login":"jdoe","status":"finished","pageSize":5}`, "/v2/users/jdoe/projects_users", "filter[status]=finished&page[size]=5"},
		{"getUserCursus", `{"login":"jdoe"}`, "/v2/users/jdoe/cursus_users", ""},
		{"getUserLocations", `{"login":"jdoe"}`, "/v2/users/jdoe/locations", "page[size]=10&sort=-begin_at"},
		{"getUserCoalitions", `{"login":"jdoe"}`, "/v2/users/jdoe/coalitions", ""},
		{"listCampuses", `{}`, "/v2/campus", "page[size]=30&sort=id"},
		{"getCampus", `{"campusId":21}`, "/v2/campus/21", ""},
		{"getCampusEvents", `{"campusId":21}`, "/v2/campus/21/events", "page[size]=10&sort=-begin_at"},
		{"getCampusUsers", `{"campusId":21,"pageSize":50}`, "/v2/campus/21/users", "page[size]=50"},
		{"getProject", `{"slug":"libft"}`, "/v2/projects/libft", ""},
		{"listCursus", `null`, "/v2/cursus", "page[size]=30"},
		{"getCursusProjects", `{"cursusId":9}`, "/v2/cursus/9/projects", "page[size]=30&sort=name"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			api := &fakeAPI{}
			cat := newCatalog(t, api)

			_, err := callTool(t, cat, tt.tool, tt.args)
			require.NoError(t, err)

			require.Len(t, api.calls, 1)
			assert.Equal(t, tt.wantPath, api.calls[0].path)
			assert.Equal(t, tt.wantQuery, api.calls[0].query)
		})
	}
}

func TestSearchUsers_WrapsUpstreamJSON(t *testing.T) {
	api := &fakeAPI{body: json.RawMessage(`[{"id":1,"login":"jdoe"}]`)}
	cat := newCatalog(t, api)

	text, err := callTool(t, cat, "searchUsers", `{"query":"jd"}`)
	require.NoError(t, err)

	assert.JSONEq(t, `[{"id":1,"login":"jdoe"}]`, text)
	assert.Contains(t, text, "\n  ", "payload is indented")
}

func TestTools_LoginStaysOneSegment(t *testing.T) {
	api := &fakeAPI{}
	cat := newCatalog(t, api)

	_, err := callTool(t, cat, "getUser", `{"login":"jean-luc.d_2"}`)
	require.NoError(t, err)
	assert.Equal(t, "/v2/users/jean-luc.d_2", api.calls[0].path)
}

func TestTools_RejectInvalidArguments(t *testing.T) {
	api := &fakeAPI{}
	cat := newCatalog(t, api)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"empty query", "searchUsers", `{"query":""}`},
		{"missing login", "getUser", `{}`},
		{"unknown status", "getUserProjects", `{"login":"jdoe","status":"bogus"}`},
		{"zero id", "getCampus", `{"campusId":0}`},
		{"page too large", "getCampusEvents", `{"campusId":1,"pageSize":101}`},
		{"string id", "getCursusProjects", `{"cursusId":"nine"}`},
		{"id beyond int32", "getCampus", `{"campusId":1e20}`},
		{"id just past int32", "getCampusUsers", `{"campusId":2147483648}`},
		{"dot-dot login", "getUser", `{"login":".."}`},
		{"dot login", "getUserCursus", `{"login":"."}`},
		{"slash login", "getUser", `{"login":"a/b"}`},
		{"dot-dot slug", "getProject", `{"slug":".."}`},
		{"traversing slug", "getProject", `{"slug":"../oauth"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, ok := cat.Tool(tt.tool)
			require.True(t, ok)
			_, err := tool.ParseArguments(json.RawMessage(tt.args))
			var vErr *catalog.ValidationError
			assert.True(t, errors.As(err, &vErr), "got %v", err)
		})
	}
	assert.Empty(t, api.calls)
}

func TestTools_LargestIDIsAccepted(t *testing.T) {
	api := &fakeAPI{}
	cat := newCatalog(t, api)

	_, err := callTool(t, cat, "getCampus", `{"campusId":2147483647}`)
	require.NoError(t, err)
	assert.Equal(t, "/v2/campus/2147483647", api.calls[0].path)
}

func TestTools_PropagateUpstreamError(t *testing.T) {
	upstream := &intra.UpstreamError{StatusCode: 404, Path: "/v2/users/ghost", Body: "not found"}
	cat := newCatalog(t, &fakeAPI{err: upstream})

	_, err := callTool(t, cat, "getUser", `{"login":"ghost"}`)
	assert.ErrorIs(t, err, upstream)
}

func TestResources(t *testing.T) {
	api := &fakeAPI{body: json.RawMessage(`{"id":1}`)}
	cat := newCatalog(t, api)

	static := cat.ListResources()
	require.Len(t, static, 2)
	assert.Equal(t, "intra://campus", static[0].URI)
	assert.Equal(t, "intra://cursus", static[1].URI)
	assert.Len(t, cat.ListTemplates(), 3)

	tests := []struct {
		uri       string
		wantPath  string
		wantQuery string
	}{
		{"intra://campus", "/v2/campus", "page[size]=100&sort=id"},
		{"intra://cursus", "/v2/cursus", "page[size]=100"},
		{"intra://users/jdoe", "/v2/users/jdoe", ""},
		{"intra://campus/21", "/v2/campus/21", ""},
		{"intra://projects/libft", "/v2/projects/libft", ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			api.calls = nil
			res, vars, ok := cat.ResolveResource(tt.uri)
			require.True(t, ok)

			text, err := res.Handler(context.Background(), vars)
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":1}`, text)

			require.Len(t, api.calls, 1)
			assert.Equal(t, tt.wantPath, api.calls[0].path)
			assert.Equal(t, tt.wantQuery, api.calls[0].query)
		})
	}
}

func TestTemplateResources_RejectUnsafeVariables(t *testing.T) {
	api := &fakeAPI{}
	cat := newCatalog(t, api)

	for _, uri := range []string{"intra://users/..", "intra://projects/..", "intra://campus/99999999999"} {
		res, vars, ok := cat.ResolveResource(uri)
		if !ok {
			continue
		}
		_, err := res.Handler(context.Background(), vars)
		assert.Error(t, err, uri)
	}
	assert.Empty(t, api.calls)
}

func TestCampusResource_RejectsNonNumericID(t *testing.T) {
	api := &fakeAPI{}
	cat := newCatalog(t, api)

	res, vars, ok := cat.ResolveResource("intra://campus/paris")
	require.True(t, ok)

	_, err := res.Handler(context.Background(), vars)
	assert.Error(t, err)
	assert.Empty(t, api.calls)
}
