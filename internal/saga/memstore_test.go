package saga

import (
	"context"
	"testing"
	"time"

	"github.com/osoko/pressline/model"
)

func testRun(id string) model.WorkflowRun {
	return model.WorkflowRun{
		RunID:        id,
		WorkflowName: "content-pipeline",
		Status:       model.RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
}

func TestMemoryRunStore_CreateRun(t *testing.T) {
	store := NewMemoryRunStore()

	if err := store.CreateRun(context.Background(), testRun("run-1")); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryRunStore_CreateRun_duplicate(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	store.CreateRun(ctx, testRun("run-1"))
	err := store.CreateRun(ctx, testRun("run-1"))
	if !model.IsConflict(err) {
		t.Errorf("duplicate create = %v, want conflict", err)
	}
}

func TestMemoryRunStore_GetRun_notFound(t *testing.T) {
	store := NewMemoryRunStore()

	_, err := store.GetRun(context.Background(), "missing")
	if !model.IsNotFound(err) {
		t.Errorf("GetRun = %v, want not found", err)
	}
}

func TestMemoryRunStore_UpdateRun(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	run := testRun("run-1")
	store.CreateRun(ctx, run)

	now := time.Now().UTC()
	run.Status = model.RunStatusSucceeded
	run.CompletedAt = &now
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}

	got, _ := store.GetRun(ctx, "run-1")
	if got.Status != model.RunStatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestMemoryRunStore_UpdateRun_notFound(t *testing.T) {
	store := NewMemoryRunStore()

	err := store.UpdateRun(context.Background(), testRun("missing"))
	if !model.IsNotFound(err) {
		t.Errorf("UpdateRun = %v, want not found", err)
	}
}

func TestMemoryRunStore_UpsertStep_andGet(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	rec := model.StepRecord{
		RunID: "run-1", StepName: "intake", SequenceIndex: 0,
		Status: model.StepStatusExecuting, Attempts: 1,
	}
	if err := store.UpsertStep(ctx, rec); err != nil {
		t.Fatalf("UpsertStep error: %v", err)
	}

	rec.Status = model.StepStatusCompleted
	rec.OutputRef = "intake/brief-1"
	if err := store.UpsertStep(ctx, rec); err != nil {
		t.Fatalf("UpsertStep replace error: %v", err)
	}

	got, err := store.GetStep(ctx, "run-1", "intake")
	if err != nil {
		t.Fatalf("GetStep error: %v", err)
	}
	if got.Status != model.StepStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.OutputRef != "intake/brief-1" {
		t.Errorf("output ref = %q", got.OutputRef)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped")
	}
}

func TestMemoryRunStore_GetStep_notFound(t *testing.T) {
	store := NewMemoryRunStore()

	_, err := store.GetStep(context.Background(), "run-1", "intake")
	if !model.IsNotFound(err) {
		t.Errorf("GetStep = %v, want not found", err)
	}
}

func TestMemoryRunStore_ListSteps_orderedBySequence(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	// Insert out of order; other runs must not leak in.
	store.UpsertStep(ctx, model.StepRecord{RunID: "run-1", StepName: "qc", SequenceIndex: 3})
	store.UpsertStep(ctx, model.StepRecord{RunID: "run-1", StepName: "intake", SequenceIndex: 0})
	store.UpsertStep(ctx, model.StepRecord{RunID: "run-1", StepName: "strategy", SequenceIndex: 1})
	store.UpsertStep(ctx, model.StepRecord{RunID: "run-2", StepName: "intake", SequenceIndex: 0})

	recs, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSteps error: %v", err)
	}
	want := []string{"intake", "strategy", "qc"}
	if len(recs) != len(want) {
		t.Fatalf("steps = %d, want %d", len(recs), len(want))
	}
	for i, name := range want {
		if recs[i].StepName != name {
			t.Errorf("steps[%d] = %q, want %q", i, recs[i].StepName, name)
		}
	}
}

func TestMemoryRunStore_Compensations_appendOrder(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()
	now := time.Now().UTC()

	store.AppendCompensation(ctx, model.CompensationLog{RunID: "run-1", StepName: "production", CompensatedAt: now, RowsAffected: 1})
	store.AppendCompensation(ctx, model.CompensationLog{RunID: "run-1", StepName: "strategy", CompensatedAt: now, RowsAffected: 1})
	store.AppendCompensation(ctx, model.CompensationLog{RunID: "run-2", StepName: "intake", CompensatedAt: now, RowsAffected: 0})

	logs, err := store.ListCompensations(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListCompensations error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].StepName != "production" || logs[1].StepName != "strategy" {
		t.Errorf("log order = [%s %s], want [production strategy]", logs[0].StepName, logs[1].StepName)
	}
}
