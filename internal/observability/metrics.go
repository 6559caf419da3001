package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentTurnsTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram

	escalationsPending prometheus.Gauge
	escalationWait     prometheus.Histogram

	busEntriesTotal prometheus.Counter

	storeOpDuration *prometheus.HistogramVec
	activeThreads   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by agent and status.",
				},
				[]string{"agent", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			agentTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turns_total",
					Help: "Total LLM turns by agent.",
				},
				[]string{"agent"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by capability and status.",
				},
				[]string{"capability", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by capability.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"capability"},
			),
			batchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "batch_duration_seconds",
					Help:    "Tool-call batch duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			batchSize: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "batch_size",
					Help:    "Number of tool calls per batch.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			escalationsPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "escalations_pending",
					Help: "Current pending human escalation count.",
				},
			),
			escalationWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "escalation_wait_seconds",
					Help:    "Time spent suspended waiting for a human response.",
					Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
				},
			),
			busEntriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bus_entries_total",
					Help: "Total entries published on the message bus.",
				},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "store_op_duration_seconds",
					Help:    "Thread store operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			activeThreads: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_threads",
					Help: "Current thread count in the store.",
				},
			),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentTurnsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.batchDuration,
			m.batchSize,
			m.escalationsPending,
			m.escalationWait,
			m.busEntriesTotal,
			m.storeOpDuration,
			m.activeThreads,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers all metrics with the module registry. Safe to
// call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns an HTTP handler exposing the module metrics. The embedding
// host decides where (or whether) to mount it.
func Handler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

// RecordAgentRun records one completed agent run.
func RecordAgentRun(agent string, d time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(agent, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordAgentTurn records one LLM turn for an agent.
func RecordAgentTurn(agent string) {
	getMetrics().agentTurnsTotal.WithLabelValues(agent).Inc()
}

// RecordToolExecution records one capability invocation.
func RecordToolExecution(capability string, d time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(capability, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordBatch records one completed tool-call batch.
func RecordBatch(size int, d time.Duration) {
	m := getMetrics()
	m.batchDuration.Observe(d.Seconds())
	m.batchSize.Observe(float64(size))
}

// SetPendingEscalations updates the pending escalation gauge.
func SetPendingEscalations(n int) {
	getMetrics().escalationsPending.Set(float64(n))
}

// RecordEscalationWait records the suspension time of a resolved escalation.
func RecordEscalationWait(d time.Duration) {
	getMetrics().escalationWait.Observe(d.Seconds())
}

// RecordBusEntry counts one published bus entry.
func RecordBusEntry() {
	getMetrics().busEntriesTotal.Inc()
}

// RecordStoreOp records one thread store operation.
func RecordStoreOp(op string, d time.Duration) {
	getMetrics().storeOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetActiveThreads updates the thread count gauge.
func SetActiveThreads(n int) {
	getMetrics().activeThreads.Set(float64(n))
}
