// ABOUTME: Tests for JSON-RPC envelope validation, method routing, and failure containment.
// ABOUTME: Includes end-to-end scenarios against fake OAuth and intranet API servers.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/intra"
	"github.com/2389/intra-gateway/internal/metrics"
	"github.com/2389/intra-gateway/internal/oauth"
	"github.com/2389/intra-gateway/internal/store"
	"github.com/2389/intra-gateway/internal/tools"
)

// fakeRecorder collects recorded tool calls.
type fakeRecorder struct {
	mu    sync.Mutex
	calls []*store.ToolCall
}

func (f *fakeRecorder) RecordCall(_ context.Context, call *store.ToolCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()

	require.NoError(t, c.AddTool("echo", "Echo a message",
		catalog.Object(map[string]*catalog.Schema{
			"message": catalog.String("text to echo", catalog.Length(1, 20)),
		}, "message"),
		func(_ context.Context, args map[string]any) (string, error) {
			return catalog.StringArg(args, "message"), nil
		}))

	require.NoError(t, c.AddTool("fail", "Always fails",
		catalog.Object(nil),
		func(context.Context, map[string]any) (string, error) {
			return "", &intra.UpstreamError{StatusCode: 502, Path: "/v2/secret", Body: "upstream stack trace"}
		}))

	require.NoError(t, c.AddTool("explode", "Panics",
		catalog.Object(nil),
		func(context.Context, map[string]any) (string, error) {
			panic("boom")
		}))

	require.NoError(t, c.AddResource(catalog.Resource{
		URI: "intra://campus", Name: "campuses", MIMEType: "application/json",
		Handler: func(context.Context, map[string]string) (string, error) { return `[]`, nil },
	}))
	require.NoError(t, c.AddResource(catalog.Resource{
		URITemplate: "intra://users/{login}", Name: "user", MIMEType: "application/json",
		Handler: func(_ context.Context, vars map[string]string) (string, error) {
			return `{"login":"` + vars["login"] + `"}`, nil
		},
	}))
	return c
}

func newTestDispatcher(t *testing.T, profile Profile, cat *catalog.Catalog, rec CallRecorder) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Options{
		Catalog:       cat,
		Profile:       profile,
		ServerName:    "intra-gateway",
		ServerVersion: "test",
		Instructions:  "Read-only access to the intranet.",
		Metrics:       metrics.New(),
		Recorder:      rec,
	})
	require.NoError(t, err)
	return d
}

// roundTrip dispatches raw and re-decodes the response generically.
func roundTrip(t *testing.T, d *Dispatcher, raw string) map[string]any {
	t.Helper()
	resp := d.Handle(context.Background(), []byte(raw))
	require.NotNil(t, resp)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error response, got %v", resp)
	_, hasResult := resp["result"]
	assert.False(t, hasResult, "error responses carry no result")
	return int(errObj["code"].(float64))
}

func TestNewDispatcher_RequiresCatalogAndName(t *testing.T) {
	_, err := NewDispatcher(Options{ServerName: "x"})
	assert.Error(t, err)

	_, err = NewDispatcher(Options{Catalog: catalog.New()})
	assert.Error(t, err)
}

func TestDispatcher_ProfileMethods(t *testing.T) {
	stdio := newTestDispatcher(t, ProfileStdio, catalog.New(), nil)
	assert.Equal(t, []string{
		"initialize", "ping", "resources/list", "resources/read", "resources/templates/list", "tools/call", "tools/list",
	}, stdio.Methods())

	httpD := newTestDispatcher(t, ProfileHTTP, catalog.New(), nil)
	assert.Equal(t, []string{"initialize", "resources/list", "tools/call", "tools/list"}, httpD.Methods())
}

func TestEnvelope_WrongVersion(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	tests := []struct {
		name   string
		raw    string
		wantID any
	}{
		{"version 1.0 with numeric id", `{"jsonrpc":"1.0","method":"initialize","id":7}`, float64(7)},
		{"missing version with string id", `{"method":"tools/list","id":"abc"}`, "abc"},
		{"wrong version without id", `{"jsonrpc":"3.0","method":"tools/list"}`, nil},
		{"numeric version", `{"jsonrpc":2.0,"method":"tools/list","id":1}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, d, tt.raw)
			assert.Equal(t, InvalidRequest, errorCode(t, resp))
			assert.Equal(t, tt.wantID, resp["id"])
			assert.Equal(t, "2.0", resp["jsonrpc"])
		})
	}
}

func TestEnvelope_ParseAndShapeErrors(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":`)
	assert.Equal(t, ParseError, errorCode(t, resp))
	assert.Nil(t, resp["id"])

	resp = roundTrip(t, d, `[1,2,3]`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","id":{"nested":true},"method":"ping"}`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))
	assert.Nil(t, resp["id"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","id":3}`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))
	assert.Equal(t, float64(3), resp["id"])

	resp = roundTrip(t, d, `[1,2,3]`)
	assert.Equal(t, "request must be a JSON object", resp["error"].(map[string]any)["data"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":42,"id":9}`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))
	assert.Equal(t, float64(9), resp["id"])
	assert.Equal(t, "malformed request field: method has the wrong type", resp["error"].(map[string]any)["data"])

	resp = roundTrip(t, d, `{"jsonrpc":2,"method":"ping","id":"abc"}`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))
	assert.Equal(t, "abc", resp["id"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":42,"id":[1]}`)
	assert.Equal(t, InvalidRequest, errorCode(t, resp))
	assert.Nil(t, resp["id"])
}

// Scenario A
func TestInitialize(t *testing.T) {
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"initialize","params":{},"id":1}`)
	assert.Equal(t, float64(1), resp["id"])

	result := resp["result"].(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	assert.Equal(t, "intra-gateway", result["serverInfo"].(map[string]any)["name"])
	assert.Equal(t, "Read-only access to the intranet.", result["instructions"])

	caps := result["capabilities"].(map[string]any)
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "resources")
}

func TestInitialize_NegotiatesVersion(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"c","version":"1"}},"id":1}`)
	assert.Equal(t, "2025-03-26", resp["result"].(map[string]any)["protocolVersion"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"1999-01-01"},"id":2}`)
	assert.Equal(t, latestProtocolVersion, resp["result"].(map[string]any)["protocolVersion"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"initialize","params":"nope","id":3}`)
	assert.Equal(t, InvalidParams, errorCode(t, resp))
}

func TestToolsList_AdvertisesValidationSchema(t *testing.T) {
	cat := testCatalog(t)
	d := newTestDispatcher(t, ProfileHTTP, cat, nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/list","id":"l"}`)
	listed := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, listed, 3)

	for i, tool := range cat.ListTools() {
		entry := listed[i].(map[string]any)
		assert.Equal(t, tool.Name, entry["name"])

		advertised, err := json.Marshal(entry["inputSchema"])
		require.NoError(t, err)
		enforced, err := json.Marshal(tool.Schema)
		require.NoError(t, err)
		assert.JSONEq(t, string(enforced), string(advertised))
	}
}

func TestToolsCall_Success(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), rec)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}},"id":5}`)
	assert.Equal(t, float64(5), resp["id"])

	content := resp["result"].(map[string]any)["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, map[string]any{"type": "text", "text": "hi"}, content[0])

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "echo", rec.calls[0].Tool)
	assert.Equal(t, "http", rec.calls[0].Transport)
	assert.Equal(t, store.OutcomeOK, rec.calls[0].Outcome)
	assert.JSONEq(t, `{"message":"hi"}`, rec.calls[0].Arguments)
}

// Scenario C
func TestToolsCall_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"doesNotExist","arguments":{}},"id":"c-1"}`)
	assert.Equal(t, MethodNotFound, errorCode(t, resp))
	assert.Equal(t, "c-1", resp["id"])
}

func TestToolsCall_InvalidArguments(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), rec)

	for _, args := range []string{`{}`, `{"message":""}`, `{"message":123}`, `"text"`} {
		resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":`+args+`},"id":9}`)
		assert.Equal(t, InvalidParams, errorCode(t, resp), "arguments %s", args)
		assert.Equal(t, float64(9), resp["id"])
	}

	require.Len(t, rec.calls, 4)
	assert.Equal(t, store.OutcomeInvalid, rec.calls[0].Outcome)
}

func TestToolsCall_MissingName(t *testing.T) {
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{},"id":1}`)
	assert.Equal(t, InvalidParams, errorCode(t, resp))
}

func TestToolsCall_HandlerErrorIsHidden(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), rec)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"fail"},"id":4}`)
	assert.Equal(t, InternalError, errorCode(t, resp))
	assert.Equal(t, float64(4), resp["id"])

	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "Internal error", errObj["message"])

	encoded, _ := json.Marshal(resp)
	assert.NotContains(t, string(encoded), "upstream stack trace")
	assert.NotContains(t, string(encoded), "502")
	assert.NotContains(t, string(encoded), "/v2/secret")

	require.Len(t, rec.calls, 1)
	assert.Equal(t, store.OutcomeError, rec.calls[0].Outcome)
	assert.Contains(t, rec.calls[0].Error, "502")
}

func TestToolsCall_PanicIsContained(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), rec)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"explode"},"id":8}`)
	assert.Equal(t, InternalError, errorCode(t, resp))

	// The dispatcher keeps serving.
	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{"message":"still here"}},"id":9}`)
	assert.Contains(t, resp, "result")

	require.Len(t, rec.calls, 2)
	assert.Equal(t, store.OutcomeError, rec.calls[0].Outcome)
}

func TestResourcesList_StaticOnly(t *testing.T) {
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"resources/list","id":1}`)
	resources := resp["result"].(map[string]any)["resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, map[string]any{
		"uri":      "intra://campus",
		"name":     "campuses",
		"mimeType": "application/json",
	}, resources[0])
}

func TestHTTPProfile_RejectsStdioOnlyMethods(t *testing.T) {
	d := newTestDispatcher(t, ProfileHTTP, testCatalog(t), nil)

	for _, method := range []string{"ping", "resources/read", "resources/templates/list", "prompts/list"} {
		resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"`+method+`","params":{"uri":"intra://campus"},"id":1}`)
		assert.Equal(t, MethodNotFound, errorCode(t, resp), method)
	}
}

func TestStdioProfile_ResourceMethods(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, map[string]any{}, resp["result"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"resources/templates/list","id":2}`)
	templates := resp["result"].(map[string]any)["resourceTemplates"].([]any)
	require.Len(t, templates, 1)
	assert.Equal(t, "intra://users/{login}", templates[0].(map[string]any)["uriTemplate"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"resources/read","params":{"uri":"intra://users/jdoe"},"id":3}`)
	contents := resp["result"].(map[string]any)["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Equal(t, map[string]any{
		"uri":      "intra://users/jdoe",
		"mimeType": "application/json",
		"text":     `{"login":"jdoe"}`,
	}, contents[0])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"resources/read","params":{"uri":"intra://nope"},"id":4}`)
	assert.Equal(t, ResourceNotFound, errorCode(t, resp))

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"resources/read","params":{},"id":5}`)
	assert.Equal(t, InvalidParams, errorCode(t, resp))
}

func TestNotifications_NoResponse(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))

	// With an id it is a request and gets an answer.
	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized","id":1}`))
	require.NotNil(t, resp)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestUnknownMethod_EchoesID(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, testCatalog(t), nil)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"sampling/createMessage","id":"x-9"}`)
	assert.Equal(t, MethodNotFound, errorCode(t, resp))
	assert.Equal(t, "x-9", resp["id"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"sampling/createMessage"}`)
	assert.Nil(t, resp["id"])
}

// intranetFixture runs fake OAuth and REST servers behind the real catalog.
type intranetFixture struct {
	oauthCalls atomic.Int32
	oauthFail  atomic.Bool
	apiPaths   chan string
	dispatcher *Dispatcher
}

func newIntranetFixture(t *testing.T) *intranetFixture {
	t.Helper()
	f := &intranetFixture{apiPaths: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.oauthCalls.Add(1)
		if f.oauthFail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 7200})
	})
	mux.HandleFunc("/v2/users", func(w http.ResponseWriter, r *http.Request) {
		f.apiPaths <- r.URL.Path + "?" + r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"id":1,"login":"jdoe"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens, err := oauth.New(oauth.Options{
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "id",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	client, err := intra.New(intra.Options{BaseURL: srv.URL, Tokens: tokens})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cat := catalog.New()
	require.NoError(t, tools.Register(cat, client))

	f.dispatcher = newTestDispatcher(t, ProfileHTTP, cat, nil)
	return f
}

// Scenario B
func TestScenario_SearchUsers(t *testing.T) {
	f := newIntranetFixture(t)

	resp := roundTrip(t, f.dispatcher, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"searchUsers","arguments":{"query":"jd"}},"id":2}`)
	assert.Equal(t, float64(2), resp["id"])

	requested := <-f.apiPaths
	assert.True(t, strings.HasPrefix(requested, "/v2/users?"))
	assert.Contains(t, requested, "filter[login]=jd")
	assert.Contains(t, requested, "page[size]=5")

	content := resp["result"].(map[string]any)["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	assert.JSONEq(t, `[{"id":1,"login":"jdoe"}]`, text)
}

// Scenario D
func TestScenario_OAuthFailureKeepsServing(t *testing.T) {
	f := newIntranetFixture(t)
	f.oauthFail.Store(true)

	call := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"searchUsers","arguments":{"query":"jd"}},"id":3}`
	resp := roundTrip(t, f.dispatcher, call)
	assert.Equal(t, InternalError, errorCode(t, resp))
	assert.NotContains(t, resp["error"].(map[string]any)["message"], "invalid_client")

	resp = roundTrip(t, f.dispatcher, call)
	assert.Equal(t, InternalError, errorCode(t, resp))

	resp = roundTrip(t, f.dispatcher, `{"jsonrpc":"2.0","method":"tools/list","id":4}`)
	assert.Contains(t, resp, "result")

	f.oauthFail.Store(false)
	resp = roundTrip(t, f.dispatcher, call)
	assert.Contains(t, resp, "result")
	assert.Equal(t, int32(3), f.oauthCalls.Load())
}

func TestToRPCError_PassesProtocolErrors(t *testing.T) {
	d := newTestDispatcher(t, ProfileStdio, catalog.New(), nil)
	req := &Request{Method: "x"}

	rpcErr := d.toRPCError(req, newError(InvalidParams, "bad"))
	assert.Equal(t, InvalidParams, rpcErr.Code)

	rpcErr = d.toRPCError(req, errors.New("connection refused"))
	assert.Equal(t, InternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Data, "requestId")
}
