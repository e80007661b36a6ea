package saga

import (
	"context"

	"github.com/osoko/pressline/model"
)

// RunStore persists workflow runs, their step records, and compensation
// logs. Implementations must behave identically whether backed by memory or
// a relational database: the coordinator is written against this interface
// and conformance tests run against both.
type RunStore interface {
	// CreateRun persists a new run. Returns a CONFLICT envelope if the run
	// ID already exists.
	CreateRun(ctx context.Context, run model.WorkflowRun) error

	// GetRun retrieves a run by ID. Returns a NOT_FOUND envelope if absent.
	GetRun(ctx context.Context, runID string) (model.WorkflowRun, error)

	// UpdateRun persists an updated run. Returns a NOT_FOUND envelope if
	// absent.
	UpdateRun(ctx context.Context, run model.WorkflowRun) error

	// UpsertStep creates or replaces the record keyed by
	// (run_id, step_name).
	UpsertStep(ctx context.Context, rec model.StepRecord) error

	// GetStep retrieves one step record. Returns a NOT_FOUND envelope if
	// absent.
	GetStep(ctx context.Context, runID, stepName string) (model.StepRecord, error)

	// ListSteps returns all step records of a run ordered by sequence
	// index.
	ListSteps(ctx context.Context, runID string) ([]model.StepRecord, error)

	// ListCompletedSteps returns every completed step record across all
	// runs, for the integrity audit.
	ListCompletedSteps(ctx context.Context) ([]model.StepRecord, error)

	// AppendCompensation records one compensation attempt.
	AppendCompensation(ctx context.Context, log model.CompensationLog) error

	// ListCompensations returns a run's compensation log in append order.
	ListCompensations(ctx context.Context, runID string) ([]model.CompensationLog, error)
}
