// Package mcp implements the Model Context Protocol surface of the gateway.
//
// # Overview
//
// A Dispatcher turns JSON-RPC 2.0 envelopes into calls against the tool and
// resource catalog. It is transport independent; ServeStdio and
// NewHTTPHandler adapt it to line-delimited stdio and HTTP POST.
//
// # Methods
//
// Both transports serve:
//
//   - initialize: protocol negotiation, capabilities, server identity
//   - tools/list: every tool with its input schema
//   - tools/call: validate arguments, run the tool, wrap its text
//   - resources/list: static resources
//
// The stdio transport additionally serves ping, resources/read and
// resources/templates/list. Any other method is answered with -32601.
//
// # Errors
//
//	-32700  body is not valid JSON
//	-32600  envelope is not a JSON-RPC 2.0 request
//	-32601  unknown method or tool
//	-32602  arguments fail the tool's schema
//	-32603  anything else; details are logged with a request id
//
// Upstream status codes and bodies never appear in responses.
//
// # HTTP
//
//	POST /mcp      JSON-RPC request, 200 with the response envelope
//	GET  /health   liveness, {"status":"ok"}
//	GET  /metrics  Prometheus exposition, when enabled
//
// Notifications (no id, method under notifications/) get 202 with no body.
// Unreadable or oversized bodies and panics get 500 with an error envelope.
package mcp
