package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/osoko/pressline/model"
)

// Runner is the slice of the saga coordinator the API needs.
type Runner interface {
	Run(ctx context.Context, initialInput map[string]any) (model.WorkflowResult, error)
	Resume(ctx context.Context, runID string, initialInput map[string]any) (model.WorkflowResult, error)
	GetRun(ctx context.Context, runID string) (model.WorkflowRun, error)
	GetRunSteps(ctx context.Context, runID string) ([]model.StepRecord, error)
	GetRunCompensations(ctx context.Context, runID string) ([]model.CompensationLog, error)
}

func handleRunStart(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid JSON body")
			return
		}

		result, err := runner.Run(r.Context(), body.Input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, result)
	}
}

func handleRunResume(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")

		var body struct {
			Input map[string]any `json:"input"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				WriteBadRequest(w, "invalid JSON body")
				return
			}
		}

		result, err := runner.Resume(r.Context(), runID, body.Input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleRunGet(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := runner.GetRun(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, run)
	}
}

func handleRunSteps(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps, err := runner.GetRunSteps(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		type stepsResponse struct {
			Steps []model.StepRecord `json:"steps"`
		}
		WriteJSON(w, http.StatusOK, stepsResponse{Steps: steps})
	}
}

func handleRunCompensations(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := runner.GetRunCompensations(r.Context(), chi.URLParam(r, "runID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		type logsResponse struct {
			Compensations []model.CompensationLog `json:"compensations"`
		}
		WriteJSON(w, http.StatusOK, logsResponse{Compensations: logs})
	}
}

func handleWorkflowList(workflows func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type workflowsResponse struct {
			Workflows []string `json:"workflows"`
		}
		WriteJSON(w, http.StatusOK, workflowsResponse{Workflows: workflows()})
	}
}
