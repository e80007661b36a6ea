package model

import "time"

// Workflow run status constants.
const (
	RunStatusRunning = "running"
	// RunStatusSucceeded is the terminal status of a run whose every step
	// completed.
	RunStatusSucceeded = "succeeded"
	// RunStatusFailed is the terminal status of a run that failed with no
	// completed steps to roll back, or whose rollback was only partial.
	RunStatusFailed = "failed"
	// RunStatusCompensated is the terminal status of a failed run whose every
	// completed step was rolled back cleanly.
	RunStatusCompensated = "compensated"
)

// Step record status constants.
const (
	StepStatusPending      = "pending"
	StepStatusExecuting    = "executing"
	StepStatusCompleted    = "completed"
	StepStatusFailed       = "failed"
	StepStatusCompensating = "compensating"
	StepStatusCompensated  = "compensated"
)

// WorkflowRun is the coordinator-owned record of one pipeline invocation.
// Only the coordinator mutates it; it becomes terminal once every step is
// resolved.
type WorkflowRun struct {
	RunID        string     `json:"run_id"`
	WorkflowName string     `json:"workflow_name"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r WorkflowRun) Terminal() bool {
	return r.Status != RunStatusRunning
}

// StepRecord tracks one step of one run. There is exactly one record per
// (run_id, step_name); it doubles as the idempotency key for execute.
type StepRecord struct {
	RunID         string      `json:"run_id"`
	StepName      string      `json:"step_name"`
	SequenceIndex int         `json:"sequence_index"`
	Status        string      `json:"status"`
	InputRef      ArtifactRef `json:"input_ref,omitempty"`
	OutputRef     ArtifactRef `json:"output_ref,omitempty"`
	Error         string      `json:"error,omitempty"`
	Attempts      int         `json:"attempts"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CompensationLog records one compensation attempt against a completed step.
// RowsAffected must equal exactly the rows the step's execute created; a
// compensation that merely flips a flag is a defect this record exists to
// catch.
type CompensationLog struct {
	RunID         string    `json:"run_id"`
	StepName      string    `json:"step_name"`
	CompensatedAt time.Time `json:"compensated_at"`
	RowsAffected  int       `json:"rows_affected"`
}

// WorkflowResult is the structured outcome every run resolves to, success or
// not. On failure, CompensatedSteps is always CompletedSteps reversed.
type WorkflowResult struct {
	RunID            string   `json:"run_id"`
	Success          bool     `json:"success"`
	CompletedSteps   []string `json:"completed_steps"`
	CompensatedSteps []string `json:"compensated_steps"`
}
