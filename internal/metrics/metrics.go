// Package metrics is the gateway's thin observability shim: a handful of
// Prometheus counters and gauges covering server lifecycle, tool execution,
// and LLM dispatch, exposed at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the full set of gauges/counters the gateway emits. All fields
// are safe for concurrent use -- they are Prometheus collectors, which are
// inherently goroutine-safe.
type Metrics struct {
	registry *prometheus.Registry

	serverStarts     *prometheus.CounterVec
	serverStops      *prometheus.CounterVec
	serverRestarts   *prometheus.CounterVec
	activeServers    prometheus.Gauge
	serverStartLat   prometheus.Histogram

	toolCallsTotal    *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	httpRequestsTotal *prometheus.CounterVec
}

// New registers a fresh set of collectors against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// tests hermetic.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		serverStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_server_starts_total",
			Help: "Number of times a managed MCP server process was spawned.",
		}, []string{"server_id"}),

		serverStops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_server_stops_total",
			Help: "Number of times a managed MCP server process was stopped.",
		}, []string{"server_id", "reason"}),

		serverRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_server_restarts_total",
			Help: "Number of automatic restarts performed by the restart policy engine.",
		}, []string{"server_id"}),

		activeServers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fmcp_active_servers",
			Help: "Number of managed servers currently in the running state.",
		}),

		serverStartLat: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fmcp_server_start_latency_seconds",
			Help:    "Time from spawn to a successful initialize handshake.",
			Buckets: prometheus.DefBuckets,
		}),

		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_tool_calls_total",
			Help: "Number of tool invocations routed through the executor.",
		}, []string{"server_id", "tool_name", "outcome"}),

		toolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fmcp_tool_call_duration_seconds",
			Help:    "Tool call latency as observed by the executor.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server_id", "tool_name"}),

		llmRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_llm_requests_total",
			Help: "Number of requests dispatched to a registered LLM backend.",
		}, []string{"model_id", "backend_type", "outcome"}),

		llmRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fmcp_llm_request_duration_seconds",
			Help:    "LLM backend request latency as observed by the dispatcher.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model_id", "backend_type"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fmcp_http_requests_total",
			Help: "Number of requests served by the HTTP API, by route and status class.",
		}, []string{"route", "method", "status_class"}),
	}
}

// Handler returns the promhttp handler for the registry backing m, for
// mounting at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordServerStart(serverID string, latencySec float64) {
	m.serverStarts.WithLabelValues(serverID).Inc()
	m.serverStartLat.Observe(latencySec)
}

func (m *Metrics) RecordServerStop(serverID, reason string) {
	m.serverStops.WithLabelValues(serverID, reason).Inc()
}

func (m *Metrics) RecordServerRestart(serverID string) {
	m.serverRestarts.WithLabelValues(serverID).Inc()
}

func (m *Metrics) SetActiveServers(n int) {
	m.activeServers.Set(float64(n))
}

func (m *Metrics) RecordToolCall(serverID, toolName, outcome string, durationSec float64) {
	m.toolCallsTotal.WithLabelValues(serverID, toolName, outcome).Inc()
	m.toolCallDuration.WithLabelValues(serverID, toolName).Observe(durationSec)
}

func (m *Metrics) RecordLLMRequest(modelID, backendType, outcome string, durationSec float64) {
	m.llmRequestsTotal.WithLabelValues(modelID, backendType, outcome).Inc()
	m.llmRequestDuration.WithLabelValues(modelID, backendType).Observe(durationSec)
}

func (m *Metrics) RecordHTTPRequest(route, method, statusClass string) {
	m.httpRequestsTotal.WithLabelValues(route, method, statusClass).Inc()
}
