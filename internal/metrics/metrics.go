// ABOUTME: Prometheus instrumentation for the dispatcher, token cache and API client.
// ABOUTME: All methods are safe to call on a nil *Metrics, which records nothing.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on the metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests      *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	tokenRefreshes   *prometheus.CounterVec
}

// New registers the gateway collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		rpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intra_gateway_rpc_requests_total",
				Help: "JSON-RPC requests handled, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		rpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intra_gateway_rpc_duration_seconds",
				Help:    "Duration of JSON-RPC request handling in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intra_gateway_tool_calls_total",
				Help: "Tool invocations, by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intra_gateway_upstream_requests_total",
				Help: "Requests sent to the intranet API, by status code",
			},
			[]string{"code"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intra_gateway_upstream_duration_seconds",
				Help:    "Latency of intranet API requests in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"code"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intra_gateway_token_refreshes_total",
				Help: "OAuth client-credentials exchanges, by result",
			},
			[]string{"result"},
		),
	}
}

// Gatherer exposes the registry for the HTTP exposition handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObserveRPC(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

// ObserveUpstream records an API request. A status of 0 means the request
// never produced a response.
func (m *Metrics) ObserveUpstream(status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(code).Inc()
	m.upstreamDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func (m *Metrics) ObserveTokenRefresh(err error) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
