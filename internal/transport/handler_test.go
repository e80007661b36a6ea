package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/osoko/pressline/model"
)

// fakeRunner scripts the coordinator surface.
type fakeRunner struct {
	result model.WorkflowResult
	run    model.WorkflowRun
	steps  []model.StepRecord
	logs   []model.CompensationLog
	err    error

	lastInput map[string]any
}

func (f *fakeRunner) Run(_ context.Context, input map[string]any) (model.WorkflowResult, error) {
	f.lastInput = input
	return f.result, f.err
}

func (f *fakeRunner) Resume(_ context.Context, _ string, input map[string]any) (model.WorkflowResult, error) {
	f.lastInput = input
	return f.result, f.err
}

func (f *fakeRunner) GetRun(context.Context, string) (model.WorkflowRun, error) {
	return f.run, f.err
}

func (f *fakeRunner) GetRunSteps(context.Context, string) ([]model.StepRecord, error) {
	return f.steps, f.err
}

func (f *fakeRunner) GetRunCompensations(context.Context, string) ([]model.CompensationLog, error) {
	return f.logs, f.err
}

func newTestRouter(runner Runner) http.Handler {
	return NewRouter(Dependencies{
		Runner:        runner,
		WorkflowNames: func() []string { return []string{"content-pipeline"} },
	})
}

func TestHandleRunStart(t *testing.T) {
	runner := &fakeRunner{
		result: model.WorkflowResult{
			RunID:          "run-1",
			Success:        true,
			CompletedSteps: []string{"intake", "strategy", "production", "qc", "delivery"},
		},
	}
	router := newTestRouter(runner)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs",
		strings.NewReader(`{"input":{"topic":"launch week"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if runner.lastInput["topic"] != "launch week" {
		t.Errorf("input = %v", runner.lastInput)
	}

	var result model.WorkflowResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.RunID != "run-1" || !result.Success {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleRunStart_badJSON(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRunGet_notFound(t *testing.T) {
	router := newTestRouter(&fakeRunner{err: model.NewNotFoundError(`run "nope" not found`)})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp struct {
		Error struct {
			Class   string `json:"class"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Class != model.ErrNotFound {
		t.Errorf("class = %q", resp.Error.Class)
	}
}

func TestHandleRunResume_terminalRunConflicts(t *testing.T) {
	router := newTestRouter(&fakeRunner{err: model.NewConflictError(`run "run-1" already terminal`)})

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/run-1/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleRunSteps(t *testing.T) {
	router := newTestRouter(&fakeRunner{
		steps: []model.StepRecord{
			{RunID: "run-1", StepName: "intake", Status: model.StepStatusCompleted},
			{RunID: "run-1", StepName: "strategy", Status: model.StepStatusExecuting},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/steps", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Steps []model.StepRecord `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Steps) != 2 || resp.Steps[0].StepName != "intake" {
		t.Errorf("steps = %+v", resp.Steps)
	}
}

func TestHandleRunCompensations(t *testing.T) {
	router := newTestRouter(&fakeRunner{
		logs: []model.CompensationLog{
			{RunID: "run-1", StepName: "strategy", RowsAffected: 1},
			{RunID: "run-1", StepName: "intake", RowsAffected: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/compensations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Compensations []model.CompensationLog `json:"compensations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Compensations) != 2 || resp.Compensations[0].StepName != "strategy" {
		t.Errorf("compensations = %+v", resp.Compensations)
	}
}

func TestHandleWorkflowList(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Workflows []string `json:"workflows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Workflows) != 1 || resp.Workflows[0] != "content-pipeline" {
		t.Errorf("workflows = %v", resp.Workflows)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
