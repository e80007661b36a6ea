package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/osoko/pressline/internal/config"
	"github.com/osoko/pressline/internal/eventbus"
	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

type env struct {
	coord *saga.Coordinator
	store *saga.MemoryRunStore
	gws   *gateway.Set
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		StepTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:       1,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
		},
		QCThreshold: 0.7,
	}
}

func newEnv(t *testing.T, cfg config.PipelineConfig, collab Collaborators) *env {
	t.Helper()

	var gws []gateway.Gateway
	for _, ns := range Namespaces() {
		gw, err := gateway.NewMemoryGateway(ns, nil)
		if err != nil {
			t.Fatalf("NewMemoryGateway(%s) error: %v", ns, err)
		}
		gws = append(gws, gw)
	}
	set := gateway.NewSet(gws...)

	reg := saga.NewStepRegistry()
	if err := Register(reg, set, cfg, collab); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	store := saga.NewMemoryRunStore()
	coord := saga.NewCoordinator(cfg, DefaultDefinition(), reg, store, set,
		eventbus.New(), zap.NewNop())
	return &env{coord: coord, store: store, gws: set}
}

func survivors(t *testing.T, e *env) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, ns := range Namespaces() {
		gw, err := e.gws.For(ns)
		if err != nil {
			t.Fatalf("For(%s) error: %v", ns, err)
		}
		refs, err := gw.Refs(context.Background())
		if err != nil {
			t.Fatalf("Refs(%s) error: %v", ns, err)
		}
		out[ns] = len(refs)
	}
	return out
}

func validInput() map[string]any {
	return map[string]any{
		"topic":       "launch week recap",
		"audience":    "customers",
		"tone":        "casual",
		"word_target": 300,
	}
}

func wantSteps(t *testing.T, got, want []string, label string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %q, want %q", label, i, got[i], want[i])
		}
	}
}

func TestPipeline_happyPath(t *testing.T) {
	e := newEnv(t, testConfig(), Collaborators{})

	result, err := e.coord.Run(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if !result.Success {
		t.Fatal("run should succeed")
	}
	wantSteps(t, result.CompletedSteps,
		[]string{"intake", "strategy", "production", "qc", "delivery"}, "CompletedSteps")
	if len(result.CompensatedSteps) != 0 {
		t.Errorf("CompensatedSteps = %v, want empty", result.CompensatedSteps)
	}
	for ns, n := range survivors(t, e) {
		if n != 1 {
			t.Errorf("%s artifacts = %d, want 1", ns, n)
		}
	}
}

func TestPipeline_artifactsChainByRef(t *testing.T) {
	e := newEnv(t, testConfig(), Collaborators{})
	ctx := context.Background()

	result, err := e.coord.Run(ctx, validInput())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	records, err := e.coord.GetRunSteps(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetRunSteps error: %v", err)
	}
	for i, rec := range records {
		if ns := rec.OutputRef.Namespace(); ns != Namespaces()[i] {
			t.Errorf("step %s output namespace = %q, want %q", rec.StepName, ns, Namespaces()[i])
		}
		if i > 0 && rec.InputRef != records[i-1].OutputRef {
			t.Errorf("step %s input ref = %q, want %q", rec.StepName, rec.InputRef, records[i-1].OutputRef)
		}
	}
}

// failingPackager trips the final step; with one attempt allowed the
// failure escalates immediately.
type failingPackager struct{}

func (failingPackager) Package(context.Context, string) (string, string, []byte, error) {
	return "", "", nil, errors.New("spool offline")
}

func TestPipeline_lateFailureCompensatesAll(t *testing.T) {
	e := newEnv(t, testConfig(), Collaborators{Packager: failingPackager{}})

	result, err := e.coord.Run(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Success {
		t.Fatal("run should fail")
	}
	wantSteps(t, result.CompletedSteps,
		[]string{"intake", "strategy", "production", "qc"}, "CompletedSteps")
	wantSteps(t, result.CompensatedSteps,
		[]string{"qc", "production", "strategy", "intake"}, "CompensatedSteps")

	run, err := e.coord.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if run.Status != model.RunStatusCompensated {
		t.Errorf("run status = %q, want compensated", run.Status)
	}
	for ns, n := range survivors(t, e) {
		if n != 0 {
			t.Errorf("%s artifacts = %d, want 0", ns, n)
		}
	}
}

// lowScoreEvaluator rejects every draft.
type lowScoreEvaluator struct{}

func (lowScoreEvaluator) Evaluate(context.Context, string, string) (float64, []string, error) {
	return 0.2, []string{"thin content"}, nil
}

func TestPipeline_qcRejectionCompensatesPriorSteps(t *testing.T) {
	e := newEnv(t, testConfig(), Collaborators{Evaluator: lowScoreEvaluator{}})

	result, err := e.coord.Run(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Success {
		t.Fatal("run should fail")
	}
	wantSteps(t, result.CompletedSteps,
		[]string{"intake", "strategy", "production"}, "CompletedSteps")
	wantSteps(t, result.CompensatedSteps,
		[]string{"production", "strategy", "intake"}, "CompensatedSteps")

	// The rejected step's own artifact is removed as part of stopping the
	// run, so no namespace keeps anything.
	for ns, n := range survivors(t, e) {
		if n != 0 {
			t.Errorf("%s artifacts = %d, want 0", ns, n)
		}
	}

	rec, err := e.coord.GetRunSteps(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRunSteps error: %v", err)
	}
	var qcRec *model.StepRecord
	for i := range rec {
		if rec[i].StepName == "qc" {
			qcRec = &rec[i]
		}
	}
	if qcRec == nil {
		t.Fatal("qc step record missing")
	}
	if qcRec.Status != model.StepStatusFailed {
		t.Errorf("qc record status = %q, want failed", qcRec.Status)
	}
	if !strings.Contains(qcRec.Error, "below threshold") {
		t.Errorf("qc record error = %q, want threshold rejection", qcRec.Error)
	}
}

func TestPipeline_invalidInputFailsAtIntake(t *testing.T) {
	e := newEnv(t, testConfig(), Collaborators{})

	result, err := e.coord.Run(context.Background(), map[string]any{"topic": "x"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Success {
		t.Fatal("run should fail")
	}
	if len(result.CompletedSteps) != 0 || len(result.CompensatedSteps) != 0 {
		t.Errorf("steps = %v / %v, want empty", result.CompletedSteps, result.CompensatedSteps)
	}
	run, err := e.coord.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if run.Status != model.RunStatusFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}
}

func TestRegister_missingGatewayFails(t *testing.T) {
	gw, err := gateway.NewMemoryGateway("intake", nil)
	if err != nil {
		t.Fatalf("NewMemoryGateway error: %v", err)
	}
	reg := saga.NewStepRegistry()
	err = Register(reg, gateway.NewSet(gw), testConfig(), Collaborators{})
	if err == nil {
		t.Fatal("expected error for missing namespaces")
	}
}

func TestDefaultDefinition(t *testing.T) {
	def := DefaultDefinition()
	if def.Name != DefaultWorkflowName {
		t.Errorf("name = %q", def.Name)
	}
	wantSteps(t, def.StepNames(),
		[]string{"intake", "strategy", "production", "qc", "delivery"}, "StepNames")
}
