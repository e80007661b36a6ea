package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/osoko/pressline/internal/eventbus"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	// Record a value for each metric so they appear in Gather.
	m.RunsStartedTotal.Inc()
	m.RunsFinishedTotal.WithLabelValues("content-pipeline", "succeeded").Inc()
	m.RunDuration.Observe(1.5)
	m.RunsActive.Inc()
	m.StepExecutionsTotal.WithLabelValues("intake", "completed").Inc()
	m.ObserveStepDuration("intake", 50*time.Millisecond)
	m.StepRetriesTotal.WithLabelValues("production").Inc()
	m.StepRejectionsTotal.WithLabelValues("qc").Inc()
	m.CompensationsTotal.WithLabelValues("production", "compensated").Inc()
	m.CompensationRowsRemoved.WithLabelValues("production").Add(1)
	m.GatewayOpsTotal.WithLabelValues("intake", "save").Inc()
	m.OutcomeCacheHitsTotal.Inc()
	m.OutcomeCacheMissesTotal.Inc()
	m.BreakerState.WithLabelValues("delivery").Set(0)
	m.IntegrityFindingsTotal.WithLabelValues("orphan_artifact").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"pressline_runs_started_total",
		"pressline_runs_finished_total",
		"pressline_run_duration_seconds",
		"pressline_runs_active",
		"pressline_step_executions_total",
		"pressline_step_duration_seconds",
		"pressline_step_retries_total",
		"pressline_step_rejections_total",
		"pressline_compensations_total",
		"pressline_compensation_rows_removed_total",
		"pressline_gateway_operations_total",
		"pressline_outcome_cache_hits_total",
		"pressline_outcome_cache_misses_total",
		"pressline_step_circuit_breaker_state",
		"pressline_integrity_findings_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestSubscribeToBus_countsStepCompletions(t *testing.T) {
	m, _ := newTestMetrics(t)
	bus := eventbus.New()
	m.SubscribeToBus(bus)

	bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicStepCompleted,
		RunID:        "run-1",
		WorkflowName: "content-pipeline",
		StepName:     "intake",
	})
	bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicStepCompleted,
		RunID:        "run-1",
		WorkflowName: "content-pipeline",
		StepName:     "intake",
	})

	val := testutil.ToFloat64(m.StepExecutionsTotal.WithLabelValues("intake", "completed"))
	if val != 2 {
		t.Errorf("completed executions = %v, want 2", val)
	}
}

func TestSubscribeToBus_countsFailuresByStatus(t *testing.T) {
	m, _ := newTestMetrics(t)
	bus := eventbus.New()
	m.SubscribeToBus(bus)

	bus.Publish(eventbus.Event{
		Topic:    eventbus.TopicStepFailed,
		RunID:    "run-1",
		StepName: "qc",
		Status:   "rejected",
	})

	val := testutil.ToFloat64(m.StepExecutionsTotal.WithLabelValues("qc", "rejected"))
	if val != 1 {
		t.Errorf("rejected executions = %v, want 1", val)
	}
}

func TestSubscribeToBus_countsCompensations(t *testing.T) {
	m, _ := newTestMetrics(t)
	bus := eventbus.New()
	m.SubscribeToBus(bus)

	bus.Publish(eventbus.Event{
		Topic:    eventbus.TopicStepCompensated,
		RunID:    "run-1",
		StepName: "production",
		Status:   "compensated",
	})

	val := testutil.ToFloat64(m.CompensationsTotal.WithLabelValues("production", "compensated"))
	if val != 1 {
		t.Errorf("compensations = %v, want 1", val)
	}
}

func TestSubscribeToBus_countsTerminalRuns(t *testing.T) {
	m, _ := newTestMetrics(t)
	bus := eventbus.New()
	m.SubscribeToBus(bus)

	bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicRunTerminal,
		RunID:        "run-1",
		WorkflowName: "content-pipeline",
		Status:       "compensated",
	})

	val := testutil.ToFloat64(m.RunsFinishedTotal.WithLabelValues("content-pipeline", "compensated"))
	if val != 1 {
		t.Errorf("finished runs = %v, want 1", val)
	}
}

func TestObserveStepDuration(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveStepDuration("strategy", 250*time.Millisecond)

	count := testutil.CollectAndCount(m.StepDuration)
	if count == 0 {
		t.Error("expected step duration histogram to have observations")
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	if len(stepDurationBuckets) != 11 {
		t.Errorf("stepDurationBuckets length = %d, want 11", len(stepDurationBuckets))
	}
	if len(runDurationBuckets) != 10 {
		t.Errorf("runDurationBuckets length = %d, want 10", len(runDurationBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(stepDurationBuckets); i++ {
		if stepDurationBuckets[i] <= stepDurationBuckets[i-1] {
			t.Errorf("stepDurationBuckets not sorted at index %d", i)
		}
	}
}
