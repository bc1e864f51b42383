// Package observability wires Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts finished runs.
	// Labels: outcome (completed|failed|cancelled|abandoned)
	RunsTotal *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	RunDuration prometheus.Histogram

	// StreamEvents counts events emitted downstream.
	// Labels: event
	StreamEvents *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// SubmitAttempts counts tool output submission attempts.
	// Labels: status (success|error)
	SubmitAttempts *prometheus.CounterVec

	// Cancellations counts upstream cancel attempts.
	// Labels: status (cancelled|skipped|error)
	Cancellations *prometheus.CounterVec

	// ActiveConnections tracks open downstream connections.
	// Labels: transport (ws|sse)
	ActiveConnections *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_runs_total",
			Help: "Total number of runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_stream_events_total",
			Help: "Events emitted to downstream consumers",
		}, []string{"event"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tool_executions_total",
			Help: "Total number of tool executions",
		}, []string{"tool_name", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		SubmitAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_submit_attempts_total",
			Help: "Tool output submission attempts",
		}, []string{"status"}),
		Cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_run_cancellations_total",
			Help: "Upstream run cancellation attempts",
		}, []string{"status"}),
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assistant_active_connections",
			Help: "Open downstream connections",
		}, []string{"transport"}),
	}
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunFinished records a run outcome.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// EventEmitted records one downstream event.
func (m *Metrics) EventEmitted(name string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(name).Inc()
}

// ToolExecuted records one tool execution.
func (m *Metrics) ToolExecuted(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SubmitAttempt records one submission attempt.
func (m *Metrics) SubmitAttempt(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SubmitAttempts.WithLabelValues(status).Inc()
}

// Cancellation records a cancel attempt result.
func (m *Metrics) Cancellation(status string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(status).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(transport).Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(transport).Dec()
}
