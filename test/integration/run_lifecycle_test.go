package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/osoko/pressline/model"
)

func startRun(t *testing.T, h *TestHarness, wantStatus int) model.WorkflowResult {
	t.Helper()

	resp := h.POST("/v1/runs", map[string]any{
		"input": map[string]any{
			"topic":       "quarterly roadmap recap",
			"audience":    "customers",
			"tone":        "formal",
			"word_target": 300,
		},
	})

	var result model.WorkflowResult
	h.AssertJSON(t, resp, wantStatus, &result)
	if result.RunID == "" {
		t.Fatal("expected run ID in response")
	}
	return result
}

func TestRun_fullLifecycle(t *testing.T) {
	h := NewTestHarness(t)

	// 1. Start a run; all five stages succeed synchronously.
	result := startRun(t, h, http.StatusCreated)
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if len(result.CompletedSteps) != 5 {
		t.Fatalf("CompletedSteps = %v", result.CompletedSteps)
	}

	// 2. Poll the run.
	var run model.WorkflowRun
	h.AssertJSON(t, h.GET("/v1/runs/"+result.RunID), http.StatusOK, &run)
	if run.Status != model.RunStatusSucceeded {
		t.Errorf("run status = %q, want succeeded", run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("run should carry a completion timestamp")
	}

	// 3. Inspect step records.
	var steps struct {
		Steps []model.StepRecord `json:"steps"`
	}
	h.AssertJSON(t, h.GET("/v1/runs/"+result.RunID+"/steps"), http.StatusOK, &steps)
	if len(steps.Steps) != 5 {
		t.Fatalf("steps = %+v", steps.Steps)
	}
	for _, rec := range steps.Steps {
		if rec.Status != model.StepStatusCompleted {
			t.Errorf("step %s status = %q", rec.StepName, rec.Status)
		}
		if rec.OutputRef.IsZero() {
			t.Errorf("step %s has no output ref", rec.StepName)
		}
	}

	// 4. Every module holds exactly its one artifact.
	surviving, err := h.SurvivingArtifacts()
	if err != nil {
		t.Fatalf("SurvivingArtifacts error: %v", err)
	}
	for ns, n := range surviving {
		if n != 1 {
			t.Errorf("%s artifacts = %d, want 1", ns, n)
		}
	}

	// 5. No compensations happened.
	var logs struct {
		Compensations []model.CompensationLog `json:"compensations"`
	}
	h.AssertJSON(t, h.GET("/v1/runs/"+result.RunID+"/compensations"), http.StatusOK, &logs)
	if len(logs.Compensations) != 0 {
		t.Errorf("compensations = %+v, want none", logs.Compensations)
	}
}

func TestRun_qcRejectionRollsBackOverHTTP(t *testing.T) {
	// Threshold above what any draft can score forces a rejection at qc.
	h := NewTestHarness(t, WithQCThreshold(1.0), WithCollaborators(collabWithScore(0.5)))

	result := startRun(t, h, http.StatusCreated)
	if result.Success {
		t.Fatalf("result = %+v, want failure", result)
	}
	wantOrder := []string{"intake", "strategy", "production"}
	if len(result.CompletedSteps) != len(wantOrder) {
		t.Fatalf("CompletedSteps = %v", result.CompletedSteps)
	}
	for i, name := range wantOrder {
		if result.CompletedSteps[i] != name {
			t.Errorf("CompletedSteps[%d] = %q, want %q", i, result.CompletedSteps[i], name)
		}
		rev := result.CompensatedSteps[len(result.CompensatedSteps)-1-i]
		if rev != name {
			t.Errorf("CompensatedSteps reversed[%d] = %q, want %q", i, rev, name)
		}
	}

	var run model.WorkflowRun
	h.AssertJSON(t, h.GET("/v1/runs/"+result.RunID), http.StatusOK, &run)
	if run.Status != model.RunStatusCompensated {
		t.Errorf("run status = %q, want compensated", run.Status)
	}

	surviving, err := h.SurvivingArtifacts()
	if err != nil {
		t.Fatalf("SurvivingArtifacts error: %v", err)
	}
	for ns, n := range surviving {
		if n != 0 {
			t.Errorf("%s artifacts = %d, want 0", ns, n)
		}
	}

	var logs struct {
		Compensations []model.CompensationLog `json:"compensations"`
	}
	h.AssertJSON(t, h.GET("/v1/runs/"+result.RunID+"/compensations"), http.StatusOK, &logs)
	if len(logs.Compensations) != 3 {
		t.Fatalf("compensations = %+v", logs.Compensations)
	}
	for _, log := range logs.Compensations {
		if log.RowsAffected != 1 {
			t.Errorf("compensation of %s removed %d rows, want 1", log.StepName, log.RowsAffected)
		}
	}
}

func TestRun_resumeOfTerminalRunConflicts(t *testing.T) {
	h := NewTestHarness(t)

	result := startRun(t, h, http.StatusCreated)

	resp := h.POST("/v1/runs/"+result.RunID+"/resume", nil)
	var errResp struct {
		Error struct {
			Class string `json:"class"`
		} `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusConflict, &errResp)
	if errResp.Error.Class != model.ErrConflict {
		t.Errorf("error class = %q", errResp.Error.Class)
	}
}

func TestRun_unknownRunReturns404(t *testing.T) {
	h := NewTestHarness(t)

	var errResp struct {
		Error struct {
			Class string `json:"class"`
		} `json:"error"`
	}
	h.AssertJSON(t, h.GET("/v1/runs/nope"), http.StatusNotFound, &errResp)
	if errResp.Error.Class != model.ErrNotFound {
		t.Errorf("error class = %q", errResp.Error.Class)
	}
}

func TestRun_invalidInputReturnsFailedResult(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/v1/runs", map[string]any{"input": map[string]any{}})
	var result model.WorkflowResult
	h.AssertJSON(t, resp, http.StatusCreated, &result)
	if result.Success {
		t.Fatalf("result = %+v, want failure", result)
	}
	if len(result.CompletedSteps) != 0 {
		t.Errorf("CompletedSteps = %v, want empty", result.CompletedSteps)
	}

	run, err := h.Coordinator.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if run.Status != model.RunStatusFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}
}

func TestWorkflowList(t *testing.T) {
	h := NewTestHarness(t)

	var resp struct {
		Workflows []string `json:"workflows"`
	}
	h.AssertJSON(t, h.GET("/v1/workflows"), http.StatusOK, &resp)
	if len(resp.Workflows) != 1 || resp.Workflows[0] != "content-pipeline" {
		t.Errorf("workflows = %v", resp.Workflows)
	}
}
