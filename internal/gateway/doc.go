// Package gateway wires the intra-gateway components into one process.
//
// # Overview
//
// A Gateway owns the OAuth token cache, the intranet API client, the tool and
// resource catalog, the optional SQLite audit store and the metrics registry.
// It serves exactly one transport per process:
//
//   - stdio: line-delimited JSON-RPC on stdin/stdout, full MCP method set
//   - http: POST /mcp plus GET /health and, when enabled, GET /metrics
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx, gateway.TransportHTTP, os.Stdin, os.Stdout)
//
// Run blocks until ctx is canceled (HTTP) or stdin closes (stdio), then shuts
// the HTTP server down with a 5 second budget and closes the tailnet node,
// the API client and the store.
//
// # Listeners
//
// The HTTP transport listens on server.http_addr, or on a Tailscale tsnet node
// when tailscale.enabled is set: plain HTTP on :80, HTTPS with Tailscale
// certificates on :443, or public Funnel on :443.
//
// # Key Files
//
//   - gateway.go: Gateway struct, New, Run, Serve, Shutdown, Close
//   - listen.go: TCP and Tailscale listener setup
package gateway
