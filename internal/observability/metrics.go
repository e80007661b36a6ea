package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osoko/pressline/internal/eventbus"
)

// Histogram bucket definitions.
var (
	stepDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	runDurationBuckets  = []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}
)

// Metrics holds all Prometheus metric instruments for the orchestrator.
type Metrics struct {
	// Run metrics
	RunsStartedTotal  prometheus.Counter
	RunsFinishedTotal *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	RunsActive        prometheus.Gauge

	// Step metrics
	StepExecutionsTotal *prometheus.CounterVec
	StepDuration        *prometheus.HistogramVec
	StepRetriesTotal    *prometheus.CounterVec
	StepRejectionsTotal *prometheus.CounterVec

	// Compensation metrics
	CompensationsTotal     *prometheus.CounterVec
	CompensationRowsRemoved *prometheus.CounterVec

	// Gateway metrics
	GatewayOpsTotal *prometheus.CounterVec

	// Cache metrics
	OutcomeCacheHitsTotal   prometheus.Counter
	OutcomeCacheMissesTotal prometheus.Counter

	// Breaker metrics
	BreakerState *prometheus.GaugeVec

	// Integrity metrics
	IntegrityFindingsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressline_runs_started_total",
			Help: "Total number of workflow runs started.",
		}),
		RunsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_runs_finished_total",
			Help: "Total number of workflow runs finished, by terminal status.",
		}, []string{"workflow_name", "status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pressline_run_duration_seconds",
			Help:    "Workflow run duration in seconds.",
			Buckets: runDurationBuckets,
		}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pressline_runs_active",
			Help: "Number of workflow runs currently executing.",
		}),

		StepExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_step_executions_total",
			Help: "Total number of step executions, by step and outcome.",
		}, []string{"step", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pressline_step_duration_seconds",
			Help:    "Step execution duration in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"step"}),
		StepRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_step_retries_total",
			Help: "Total number of step retry attempts.",
		}, []string{"step"}),
		StepRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_step_rejections_total",
			Help: "Total number of business rejections returned by steps.",
		}, []string{"step"}),

		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_compensations_total",
			Help: "Total number of compensation attempts, by step and result.",
		}, []string{"step", "result"}),
		CompensationRowsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_compensation_rows_removed_total",
			Help: "Total rows removed by compensations.",
		}, []string{"step"}),

		GatewayOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_gateway_operations_total",
			Help: "Total persistence gateway operations, by namespace and op.",
		}, []string{"namespace", "op"}),

		OutcomeCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressline_outcome_cache_hits_total",
			Help: "Total step-outcome cache hits.",
		}),
		OutcomeCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressline_outcome_cache_misses_total",
			Help: "Total step-outcome cache misses.",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pressline_step_circuit_breaker_state",
			Help: "Per-step circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"step"}),

		IntegrityFindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressline_integrity_findings_total",
			Help: "Total consistency violations found by the integrity audit.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RunsStartedTotal, m.RunsFinishedTotal, m.RunDuration, m.RunsActive,
		m.StepExecutionsTotal, m.StepDuration, m.StepRetriesTotal, m.StepRejectionsTotal,
		m.CompensationsTotal, m.CompensationRowsRemoved,
		m.GatewayOpsTotal,
		m.OutcomeCacheHitsTotal, m.OutcomeCacheMissesTotal,
		m.BreakerState,
		m.IntegrityFindingsTotal,
	)

	return m
}

// SubscribeToBus wires the metric instruments to step lifecycle events so
// every published event is counted before the coordinator advances.
func (m *Metrics) SubscribeToBus(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TopicStepCompleted, func(evt eventbus.Event) {
		m.StepExecutionsTotal.WithLabelValues(evt.StepName, "completed").Inc()
	})
	bus.Subscribe(eventbus.TopicStepFailed, func(evt eventbus.Event) {
		m.StepExecutionsTotal.WithLabelValues(evt.StepName, evt.Status).Inc()
	})
	bus.Subscribe(eventbus.TopicStepCompensated, func(evt eventbus.Event) {
		m.CompensationsTotal.WithLabelValues(evt.StepName, evt.Status).Inc()
	})
	bus.Subscribe(eventbus.TopicRunTerminal, func(evt eventbus.Event) {
		m.RunsFinishedTotal.WithLabelValues(evt.WorkflowName, evt.Status).Inc()
	})
}

// ObserveStepDuration records one step execution duration.
func (m *Metrics) ObserveStepDuration(step string, d time.Duration) {
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
