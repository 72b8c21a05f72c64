// ABOUTME: HTTP transport: POST /mcp for JSON-RPC, GET /health for liveness, optional /metrics.
// ABOUTME: JSON-RPC outcomes return 200; transport failures return 500 with a best-effort envelope.

package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/intra-gateway/internal/metrics"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// HTTPOptions configures the HTTP handler.
type HTTPOptions struct {
	Dispatcher *Dispatcher
	Logger     *slog.Logger

	// Metrics is served at MetricsPath when both are set.
	Metrics     *metrics.Metrics
	MetricsPath string

	// Auth, when set, wraps POST /mcp. /health is never wrapped.
	Auth func(http.Handler) http.Handler
}

type httpHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewHTTPHandler builds the router for the HTTP transport.
func NewHTTPHandler(opts HTTPOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandler{
		dispatcher: opts.Dispatcher,
		logger:     logger.With("component", "mcp-http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", handleHealth)

	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, promhttp.HandlerFor(opts.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Post("/mcp", h.handlePost)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// handleHealth reports process liveness only.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *httpHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic handling MCP request",
				"panic", rec,
				"stack", string(debug.Stack()),
				"request_id", middleware.GetReqID(r.Context()),
			)
			h.writeResponse(w, http.StatusInternalServerError, errorResponse(nil, newError(InternalError, nil)))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		h.writeResponse(w, http.StatusInternalServerError, errorResponse(nil, newError(ParseError, "failed to read request body")))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		h.writeResponse(w, http.StatusInternalServerError, errorResponse(nil, newError(InvalidRequest, "request body too large")))
		return
	}

	req, errResp := Decode(body)
	if errResp != nil {
		status := http.StatusOK
		if errResp.Error.Code == ParseError {
			status = http.StatusInternalServerError
		}
		h.writeResponse(w, status, errResp)
		return
	}

	h.logger.Debug("MCP request",
		"method", req.Method,
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := h.dispatcher.HandleRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.writeResponse(w, http.StatusOK, resp)
}

func (h *httpHandler) writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
