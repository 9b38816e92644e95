package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	turnTotal      *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	turnRounds     prometheus.Histogram

	modelCallTotal     *prometheus.CounterVec
	modelCallDuration  *prometheus.HistogramVec
	toolSchemaFallback *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	toolDiscoveryTotal   *prometheus.CounterVec
	toolCacheLookupTotal *prometheus.CounterVec
	extractionTotal      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "chat_sessions_active",
					Help: "Currently connected chat sessions.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_turns_total",
					Help: "Total chat turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_turn_duration_seconds",
					Help:    "Wall time of a chat turn.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
			),
			turnRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_turn_rounds",
					Help:    "Rounds executed per chat turn.",
					Buckets: []float64{1, 2, 3, 4, 5},
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_calls_total",
					Help: "Total streaming model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Streaming model call duration by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolSchemaFallback: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_tool_schema_fallback_total",
					Help: "Rounds retried without tool schemas because the model rejected them.",
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool errors by tool.",
				},
				[]string{"tool"},
			),
			toolDiscoveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_discovery_total",
					Help: "Tool discovery attempts by status.",
				},
				[]string{"status"},
			),
			toolCacheLookupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_cache_lookups_total",
					Help: "Tool cache lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			extractionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_call_extraction_total",
					Help: "Rounds whose tool calls came from each extraction strategy.",
				},
				[]string{"strategy"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.turnTotal,
			m.turnDuration,
			m.turnRounds,
			m.modelCallTotal,
			m.modelCallDuration,
			m.toolSchemaFallback,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.toolDiscoveryTotal,
			m.toolCacheLookupTotal,
			m.extractionTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordTurn(duration time.Duration, rounds int, success bool) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(statusLabel(success)).Inc()
	m.turnDuration.Observe(duration.Seconds())
	if rounds > 0 {
		m.turnRounds.Observe(float64(rounds))
	}
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolSchemaFallback(provider string) {
	m := getMetrics()
	m.toolSchemaFallback.WithLabelValues(provider).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordToolDiscovery(success bool) {
	m := getMetrics()
	m.toolDiscoveryTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordToolCacheLookup(hit bool) {
	m := getMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	m.toolCacheLookupTotal.WithLabelValues(result).Inc()
}

func RecordExtraction(strategy string) {
	m := getMetrics()
	m.extractionTotal.WithLabelValues(strategy).Inc()
}
