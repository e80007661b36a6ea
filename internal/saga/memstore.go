package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/osoko/pressline/model"
)

type stepKey struct {
	runID    string
	stepName string
}

// MemoryRunStore is an in-memory RunStore for tests and ephemeral runs.
type MemoryRunStore struct {
	mu            sync.RWMutex
	runs          map[string]model.WorkflowRun
	steps         map[stepKey]model.StepRecord
	compensations map[string][]model.CompensationLog // key: run ID
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:          make(map[string]model.WorkflowRun),
		steps:         make(map[stepKey]model.StepRecord),
		compensations: make(map[string][]model.CompensationLog),
	}
}

// CreateRun persists a new run.
func (s *MemoryRunStore) CreateRun(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("run %q already exists", run.RunID),
		)
	}
	s.runs[run.RunID] = run
	return nil
}

// GetRun retrieves a run by ID.
func (s *MemoryRunStore) GetRun(_ context.Context, runID string) (model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return model.WorkflowRun{}, model.NewNotFoundError(
			fmt.Sprintf("run %q not found", runID),
		)
	}
	return run, nil
}

// UpdateRun persists an updated run.
func (s *MemoryRunStore) UpdateRun(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("run %q not found", run.RunID),
		)
	}
	s.runs[run.RunID] = run
	return nil
}

// UpsertStep creates or replaces the record keyed by (run_id, step_name).
func (s *MemoryRunStore) UpsertStep(_ context.Context, rec model.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now().UTC()
	s.steps[stepKey{rec.RunID, rec.StepName}] = rec
	return nil
}

// GetStep retrieves one step record.
func (s *MemoryRunStore) GetStep(_ context.Context, runID, stepName string) (model.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.steps[stepKey{runID, stepName}]
	if !exists {
		return model.StepRecord{}, model.NewNotFoundError(
			fmt.Sprintf("step %q of run %q not found", stepName, runID),
		)
	}
	return rec, nil
}

// ListSteps returns all step records of a run ordered by sequence index.
func (s *MemoryRunStore) ListSteps(_ context.Context, runID string) ([]model.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepRecord
	for key, rec := range s.steps {
		if key.runID == runID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SequenceIndex < result[j].SequenceIndex
	})
	return result, nil
}

// ListCompletedSteps returns every completed step record across all runs.
func (s *MemoryRunStore) ListCompletedSteps(_ context.Context) ([]model.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StepRecord
	for _, rec := range s.steps {
		if rec.Status == model.StepStatusCompleted {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RunID != result[j].RunID {
			return result[i].RunID < result[j].RunID
		}
		return result[i].SequenceIndex < result[j].SequenceIndex
	})
	return result, nil
}

// AppendCompensation records one compensation attempt.
func (s *MemoryRunStore) AppendCompensation(_ context.Context, log model.CompensationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compensations[log.RunID] = append(s.compensations[log.RunID], log)
	return nil
}

// ListCompensations returns a run's compensation log in append order.
func (s *MemoryRunStore) ListCompensations(_ context.Context, runID string) ([]model.CompensationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.compensations[runID]
	result := make([]model.CompensationLog, len(logs))
	copy(result, logs)
	return result, nil
}

// Len returns the total number of runs. For testing.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
