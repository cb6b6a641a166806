package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	phaseDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120}
	taskDurationBuckets  = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}
)

// Metrics holds all Prometheus metric instruments for the flow engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Flow lifecycle metrics
	FlowInitializationsTotal *prometheus.CounterVec
	FlowPhaseExecutionsTotal *prometheus.CounterVec
	FlowPhaseDuration        *prometheus.HistogramVec
	FlowPausesTotal          *prometheus.CounterVec
	FlowResumesTotal         *prometheus.CounterVec
	FlowCompletionsTotal     *prometheus.CounterVec
	FlowActiveInstances      *prometheus.GaugeVec

	// Agent task metrics
	AgentTasksTotal        *prometheus.CounterVec
	AgentTaskDuration      *prometheus.HistogramVec
	AgentRetriesTotal      prometheus.Counter
	AgentCircuitState      prometheus.Gauge
	AgentParseFailures     prometheus.Counter

	// Persistence metrics
	CheckpointWritesTotal    *prometheus.CounterVec
	CheckpointConflictsTotal prometheus.Counter
	CheckpointMergesTotal    prometheus.Counter
	IntegrityAnomaliesTotal  prometheus.Counter
	LockContentionTotal      prometheus.Counter

	// System metrics
	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		FlowInitializationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_flow_initializations_total",
			Help: "Total number of flow initializations.",
		}, []string{"flow_type"}),
		FlowPhaseExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_flow_phase_executions_total",
			Help: "Total number of phase executions.",
		}, []string{"flow_type", "phase", "outcome"}),
		FlowPhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floe_flow_phase_duration_seconds",
			Help:    "Phase execution duration in seconds.",
			Buckets: phaseDurationBuckets,
		}, []string{"flow_type", "phase"}),
		FlowPausesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_flow_pauses_total",
			Help: "Total number of flow pauses.",
		}, []string{"flow_type", "kind"}),
		FlowResumesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_flow_resumes_total",
			Help: "Total number of flow resumes.",
		}, []string{"flow_type"}),
		FlowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_flow_completions_total",
			Help: "Total number of flow completions.",
		}, []string{"flow_type", "final_status"}),
		FlowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "floe_flow_active_instances",
			Help: "Number of non-terminal flow instances.",
		}, []string{"flow_type"}),

		AgentTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_agent_tasks_total",
			Help: "Total number of agent task dispatches.",
		}, []string{"outcome"}),
		AgentTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floe_agent_task_duration_seconds",
			Help:    "Agent task duration in seconds including retries.",
			Buckets: taskDurationBuckets,
		}, []string{"outcome"}),
		AgentRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_agent_retries_total",
			Help: "Total number of rate-limit retries against the agent capability.",
		}),
		AgentCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floe_agent_circuit_breaker_state",
			Help: "Agent circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		AgentParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_agent_parse_failures_total",
			Help: "Total number of unparsable agent outputs.",
		}),

		CheckpointWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floe_checkpoint_writes_total",
			Help: "Total number of checkpoint writes.",
		}, []string{"status"}),
		CheckpointConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_checkpoint_conflicts_total",
			Help: "Total number of checkpoint version conflicts surfaced to callers.",
		}),
		CheckpointMergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_checkpoint_merges_total",
			Help: "Total number of checkpoints re-based onto a concurrent write.",
		}),
		IntegrityAnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_integrity_anomalies_total",
			Help: "Total number of integrity anomalies found on restore.",
		}),
		LockContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_lock_contention_total",
			Help: "Total number of rejected acquisitions of a held flow lock.",
		}),

		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floe_definitions_loaded",
			Help: "Number of loaded flow type definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FlowInitializationsTotal,
		m.FlowPhaseExecutionsTotal,
		m.FlowPhaseDuration,
		m.FlowPausesTotal,
		m.FlowResumesTotal,
		m.FlowCompletionsTotal,
		m.FlowActiveInstances,
		m.AgentTasksTotal,
		m.AgentTaskDuration,
		m.AgentRetriesTotal,
		m.AgentCircuitState,
		m.AgentParseFailures,
		m.CheckpointWritesTotal,
		m.CheckpointConflictsTotal,
		m.CheckpointMergesTotal,
		m.IntegrityAnomaliesTotal,
		m.LockContentionTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// Record methods accept a nil receiver so call sites in the engine never
// need a guard when metrics are not configured.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordFlowInitialization records a flow start.
func (m *Metrics) RecordFlowInitialization(flowType string) {
	if m == nil {
		return
	}
	m.FlowInitializationsTotal.WithLabelValues(flowType).Inc()
	m.FlowActiveInstances.WithLabelValues(flowType).Inc()
}

// RecordPhaseExecution records one phase execution and its outcome.
func (m *Metrics) RecordPhaseExecution(flowType, phase, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FlowPhaseExecutionsTotal.WithLabelValues(flowType, phase, outcome).Inc()
	m.FlowPhaseDuration.WithLabelValues(flowType, phase).Observe(duration.Seconds())
}

// RecordFlowPause records a flow pause of the given kind.
func (m *Metrics) RecordFlowPause(flowType, kind string) {
	if m == nil {
		return
	}
	m.FlowPausesTotal.WithLabelValues(flowType, kind).Inc()
}

// RecordFlowResume records a flow resume.
func (m *Metrics) RecordFlowResume(flowType string) {
	if m == nil {
		return
	}
	m.FlowResumesTotal.WithLabelValues(flowType).Inc()
}

// RecordFlowCompletion records a flow reaching a terminal status.
func (m *Metrics) RecordFlowCompletion(flowType, finalStatus string) {
	if m == nil {
		return
	}
	m.FlowCompletionsTotal.WithLabelValues(flowType, finalStatus).Inc()
	m.FlowActiveInstances.WithLabelValues(flowType).Dec()
}

// RecordAgentTask records an agent task dispatch and its outcome.
func (m *Metrics) RecordAgentTask(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AgentTasksTotal.WithLabelValues(outcome).Inc()
	m.AgentTaskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAgentRetry records one rate-limit retry.
func (m *Metrics) RecordAgentRetry() {
	if m == nil {
		return
	}
	m.AgentRetriesTotal.Inc()
}

// SetAgentCircuitState sets the breaker state (0=closed, 1=half-open, 2=open).
func (m *Metrics) SetAgentCircuitState(state float64) {
	if m == nil {
		return
	}
	m.AgentCircuitState.Set(state)
}

// RecordAgentParseFailure records an unparsable agent output.
func (m *Metrics) RecordAgentParseFailure() {
	if m == nil {
		return
	}
	m.AgentParseFailures.Inc()
}

// RecordCheckpointWrite records a checkpoint write with its status.
func (m *Metrics) RecordCheckpointWrite(status string) {
	if m == nil {
		return
	}
	m.CheckpointWritesTotal.WithLabelValues(status).Inc()
}

// RecordCheckpointConflict records a conflict surfaced to the caller.
func (m *Metrics) RecordCheckpointConflict() {
	if m == nil {
		return
	}
	m.CheckpointConflictsTotal.Inc()
}

// RecordCheckpointMerge records a checkpoint re-based onto a concurrent write.
func (m *Metrics) RecordCheckpointMerge() {
	if m == nil {
		return
	}
	m.CheckpointMergesTotal.Inc()
}

// RecordIntegrityAnomalies records anomalies found on restore.
func (m *Metrics) RecordIntegrityAnomalies(count int) {
	if m == nil {
		return
	}
	m.IntegrityAnomaliesTotal.Add(float64(count))
}

// RecordLockContention records a rejected lock acquisition.
func (m *Metrics) RecordLockContention() {
	if m == nil {
		return
	}
	m.LockContentionTotal.Inc()
}

// SetDefinitionsLoaded sets the number of loaded flow type definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(count)
}

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
