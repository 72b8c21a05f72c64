// ABOUTME: Transport-independent JSON-RPC dispatcher for the MCP methods the gateway serves.
// ABOUTME: Validates envelopes, routes through a method table, and contains every handler failure.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/metrics"
	"github.com/2389/intra-gateway/internal/store"
)

// supportedProtocolVersions lists the MCP revisions initialize accepts, oldest first.
var supportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
	"2025-11-25",
}

// latestProtocolVersion is the version we advertise when the client's is unknown.
const latestProtocolVersion = "2025-11-25"

// Profile selects which methods a dispatcher exposes.
type Profile int

const (
	// ProfileStdio serves the full method set, including resource reads.
	ProfileStdio Profile = iota
	// ProfileHTTP serves exactly initialize, tools/list, tools/call and resources/list.
	ProfileHTTP
)

func (p Profile) String() string {
	if p == ProfileHTTP {
		return "http"
	}
	return "stdio"
}

// CallRecorder persists a record of each tools/call.
type CallRecorder interface {
	RecordCall(ctx context.Context, call *store.ToolCall) error
}

// Options configures a Dispatcher.
type Options struct {
	Catalog       *catalog.Catalog
	Profile       Profile
	ServerName    string
	ServerVersion string
	Instructions  string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Recorder      CallRecorder
}

type methodFunc func(ctx context.Context, req *Request) (any, error)

// Dispatcher handles decoded JSON-RPC requests. It keeps no state between
// requests and is safe for concurrent use.
type Dispatcher struct {
	catalog      *catalog.Catalog
	profile      Profile
	info         Implementation
	instructions string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	recorder     CallRecorder
	methods      map[string]methodFunc
}

// NewDispatcher creates a dispatcher with the method table for opts.Profile.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if opts.ServerName == "" {
		return nil, errors.New("server name is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	version := opts.ServerVersion
	if version == "" {
		version = "dev"
	}

	d := &Dispatcher{
		catalog:      opts.Catalog,
		profile:      opts.Profile,
		info:         Implementation{Name: opts.ServerName, Version: version},
		instructions: opts.Instructions,
		logger:       logger.With("component", "mcp", "transport", opts.Profile.String()),
		metrics:      opts.Metrics,
		recorder:     opts.Recorder,
	}

	d.methods = map[string]methodFunc{
		"initialize":     d.initialize,
		"tools/list":     d.listTools,
		"tools/call":     d.callTool,
		"resources/list": d.listResources,
	}
	if opts.Profile == ProfileStdio {
		d.methods["ping"] = d.ping
		d.methods["resources/read"] = d.readResource
		d.methods["resources/templates/list"] = d.listResourceTemplates
	}

	return d, nil
}

// Methods returns the method names this dispatcher routes, sorted.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handle decodes raw and dispatches it. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) *Response {
	req, errResp := Decode(raw)
	if errResp != nil {
		return errResp
	}
	return d.HandleRequest(ctx, req)
}

// Decode parses raw into a request and validates the envelope. On failure it
// returns the error response to send instead.
func Decode(raw []byte) (*Request, *Response) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, errorResponse(nil, newError(ParseError, nil))
	}

	if raw[0] != '{' {
		return nil, errorResponse(nil, newError(InvalidRequest, "request must be a JSON object"))
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errorResponse(recoverID(raw), newError(InvalidRequest, "malformed request field: "+fieldError(err)))
	}

	if !validID(req.ID) {
		return nil, errorResponse(nil, newError(InvalidRequest, "id must be a string, number or null"))
	}
	if req.JSONRPC != "2.0" {
		return nil, errorResponse(req.ID, newError(InvalidRequest, "jsonrpc must be \"2.0\""))
	}
	if req.Method == "" {
		return nil, errorResponse(req.ID, newError(InvalidRequest, "method is required"))
	}
	return &req, nil
}

// recoverID pulls a usable id out of an object whose other fields failed to
// decode, or returns nil.
func recoverID(raw []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || !validID(envelope.ID) {
		return nil
	}
	return envelope.ID
}

func fieldError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return typeErr.Field + " has the wrong type"
	}
	return err.Error()
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}

// IsNotification reports whether req expects no response.
func IsNotification(req *Request) bool {
	return len(req.ID) == 0 && strings.HasPrefix(req.Method, "notifications/")
}

// HandleRequest routes a decoded request. It returns nil for notifications.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *Request) *Response {
	if IsNotification(req) {
		d.logger.Debug("accepted notification", "method", req.Method)
		return nil
	}

	start := time.Now()
	method, ok := d.methods[req.Method]
	if !ok {
		d.metrics.ObserveRPC("unknown", "method_not_found", time.Since(start))
		return errorResponse(req.ID, newError(MethodNotFound, req.Method))
	}

	result, err := d.invoke(ctx, req, method)
	if err != nil {
		rpcErr := d.toRPCError(req, err)
		d.metrics.ObserveRPC(req.Method, outcomeLabel(rpcErr.Code), time.Since(start))
		return errorResponse(req.ID, rpcErr)
	}

	d.metrics.ObserveRPC(req.Method, "ok", time.Since(start))
	return resultResponse(req.ID, result)
}

// invoke runs a method, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, req *Request, method methodFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in method handler",
				"method", req.Method,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return method(ctx, req)
}

// toRPCError maps a method failure to the client-facing error. Protocol
// errors pass through; validation failures become Invalid params; everything
// else is logged with a correlation id and reported as Internal error.
func (d *Dispatcher) toRPCError(req *Request, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var vErr *catalog.ValidationError
	if errors.As(err, &vErr) {
		return newError(InvalidParams, vErr.Err.Error())
	}

	correlationID := uuid.New().String()
	d.logger.Warn("request failed",
		"method", req.Method,
		"request_id", correlationID,
		"error", err,
	)
	return newError(InternalError, map[string]string{"requestId": correlationID})
}

func outcomeLabel(code int) string {
	switch code {
	case InvalidParams:
		return "invalid_params"
	case MethodNotFound:
		return "method_not_found"
	case ResourceNotFound:
		return "resource_not_found"
	case InternalError:
		return "internal_error"
	default:
		return "error"
	}
}

func decodeParams(req *Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return newError(InvalidParams, "params must be an object")
	}
	return nil
}

func (d *Dispatcher) initialize(_ context.Context, req *Request) (any, error) {
	var params InitializeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}

	version := latestProtocolVersion
	if slices.Contains(supportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	d.logger.Info("client initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"requested_protocol", params.ProtocolVersion,
		"protocol", version,
	)

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     &struct{}{},
			Resources: &struct{}{},
		},
		ServerInfo:   d.info,
		Instructions: d.instructions,
	}, nil
}

func (d *Dispatcher) ping(context.Context, *Request) (any, error) {
	return struct{}{}, nil
}

func (d *Dispatcher) listTools(context.Context, *Request) (any, error) {
	tools := d.catalog.ListTools()
	result := ListToolsResult{Tools: make([]ToolInfo, len(tools))}
	for i, t := range tools {
		result.Tools[i] = ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		}
	}
	return result, nil
}

func (d *Dispatcher) callTool(ctx context.Context, req *Request) (any, error) {
	var params CallToolParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, newError(InvalidParams, "tool name is required")
	}

	tool, ok := d.catalog.Tool(params.Name)
	if !ok {
		return nil, newError(MethodNotFound, "unknown tool: "+params.Name)
	}

	callID := uuid.New().String()
	start := time.Now()

	text, err := d.runTool(ctx, tool, params.Arguments)
	d.record(ctx, callID, tool.Name, params.Arguments, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("tool %s (call %s): %w", tool.Name, callID, err)
	}

	d.logger.Debug("tools/call complete",
		"tool_name", tool.Name,
		"call_id", callID,
		"duration", time.Since(start),
	)

	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}, nil
}

// runTool validates arguments and runs the handler. A panicking handler is
// reported as an error so the call is still recorded.
func (d *Dispatcher) runTool(ctx context.Context, tool *catalog.Tool, raw json.RawMessage) (text string, err error) {
	args, err := tool.ParseArguments(raw)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in tool handler",
				"tool_name", tool.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("tool handler panic: %v", r)
		}
	}()
	return tool.Handler(ctx, args)
}

func (d *Dispatcher) record(ctx context.Context, callID, toolName string, args json.RawMessage, callErr error, elapsed time.Duration) {
	d.metrics.ObserveToolCall(toolName, callErr)
	if d.recorder == nil {
		return
	}

	call := &store.ToolCall{
		ID:        callID,
		Tool:      toolName,
		Transport: d.profile.String(),
		Arguments: string(args),
		Outcome:   store.OutcomeOK,
		Duration:  elapsed,
		CreatedAt: time.Now().UTC(),
	}
	if callErr != nil {
		call.Outcome = store.OutcomeError
		var vErr *catalog.ValidationError
		if errors.As(callErr, &vErr) {
			call.Outcome = store.OutcomeInvalid
		}
		call.Error = callErr.Error()
	}

	if err := d.recorder.RecordCall(context.WithoutCancel(ctx), call); err != nil {
		d.logger.Warn("failed to record tool call", "call_id", callID, "error", err)
	}
}

func (d *Dispatcher) listResources(context.Context, *Request) (any, error) {
	resources := d.catalog.ListResources()
	result := ListResourcesResult{Resources: make([]ResourceInfo, len(resources))}
	for i, r := range resources {
		result.Resources[i] = ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}
	}
	return result, nil
}

func (d *Dispatcher) listResourceTemplates(context.Context, *Request) (any, error) {
	templates := d.catalog.ListTemplates()
	result := ListResourceTemplatesResult{ResourceTemplates: make([]ResourceTemplateInfo, len(templates))}
	for i, r := range templates {
		result.ResourceTemplates[i] = ResourceTemplateInfo{
			URITemplate: r.URITemplate,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}
	}
	return result, nil
}

func (d *Dispatcher) readResource(ctx context.Context, req *Request) (any, error) {
	var params ReadResourceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, newError(InvalidParams, "uri is required")
	}

	res, vars, ok := d.catalog.ResolveResource(params.URI)
	if !ok {
		return nil, newError(ResourceNotFound, params.URI)
	}

	text, err := res.Handler(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", params.URI, err)
	}

	return ReadResourceResult{Contents: []ResourceContents{{
		URI:      params.URI,
		MIMEType: res.MIMEType,
		Text:     text,
	}}}, nil
}
