package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osoko/pressline/internal/config"
	"github.com/osoko/pressline/internal/eventbus"
	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/observability"
	"github.com/osoko/pressline/model"
)

// Coordinator drives one workflow definition forward step by step and, on
// failure, compensates every completed step in reverse order. It holds no
// locks: concurrent runs are isolated by run ID and each run executes
// strictly sequentially inside a single Run call.
type Coordinator struct {
	cfg      config.PipelineConfig
	def      model.WorkflowDefinition
	steps    *Registry
	store    RunStore
	gateways *gateway.Set
	bus      *eventbus.Bus
	logger   *zap.Logger

	// Optional collaborators, nil-safe.
	cache    OutcomeCache
	metrics  *observability.Metrics
	breakers *breakerSet
}

// NewCoordinator creates a coordinator for one workflow definition.
func NewCoordinator(
	cfg config.PipelineConfig,
	def model.WorkflowDefinition,
	steps *Registry,
	store RunStore,
	gateways *gateway.Set,
	bus *eventbus.Bus,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		def:      def,
		steps:    steps,
		store:    store,
		gateways: gateways,
		bus:      bus,
		logger:   logger,
	}
	if cfg.Breaker.Enabled {
		c.breakers = newBreakerSet(cfg.Breaker)
	}
	return c
}

// SetOutcomeCache installs an advisory step-outcome cache.
func (c *Coordinator) SetOutcomeCache(cache OutcomeCache) {
	c.cache = cache
}

// SetMetrics installs the metric instruments.
func (c *Coordinator) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// Definition returns the workflow definition this coordinator drives.
func (c *Coordinator) Definition() model.WorkflowDefinition {
	return c.def
}

// Run executes the pipeline once. It always returns a structured result,
// success or not; the error return is reserved for bootstrap failures where
// no run record could be established.
func (c *Coordinator) Run(ctx context.Context, initialInput map[string]any) (model.WorkflowResult, error) {
	return c.run(ctx, uuid.New().String(), initialInput)
}

// Resume re-executes an existing run under its original ID. Completed steps
// short-circuit to their recorded output refs, so a crashed run picks up
// where it stopped.
func (c *Coordinator) Resume(ctx context.Context, runID string, initialInput map[string]any) (model.WorkflowResult, error) {
	return c.run(ctx, runID, initialInput)
}

// GetRun retrieves a run by ID.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (model.WorkflowRun, error) {
	return c.store.GetRun(ctx, runID)
}

// GetRunSteps returns a run's step records in pipeline order.
func (c *Coordinator) GetRunSteps(ctx context.Context, runID string) ([]model.StepRecord, error) {
	if _, err := c.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return c.store.ListSteps(ctx, runID)
}

// GetRunCompensations returns a run's compensation log in rollback order.
func (c *Coordinator) GetRunCompensations(ctx context.Context, runID string) ([]model.CompensationLog, error) {
	if _, err := c.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return c.store.ListCompensations(ctx, runID)
}

func (c *Coordinator) run(ctx context.Context, runID string, initialInput map[string]any) (model.WorkflowResult, error) {
	ctx, span := observability.StartSpan(ctx, "saga.run",
		observability.AttrRunID.String(runID),
		observability.AttrWorkflowName.String(c.def.Name),
	)
	defer span.End()

	logger := observability.RunLogger(ctx, c.logger, runID, c.def.Name)
	started := time.Now().UTC()

	// 1. Establish the run record. Resumed runs tolerate the conflict.
	run := model.WorkflowRun{
		RunID:        runID,
		WorkflowName: c.def.Name,
		Status:       model.RunStatusRunning,
		StartedAt:    started,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		if !model.IsConflict(err) {
			observability.EndSpanWithError(span, err)
			return model.WorkflowResult{}, fmt.Errorf("create run: %w", err)
		}
		existing, err := c.store.GetRun(ctx, runID)
		if err != nil {
			observability.EndSpanWithError(span, err)
			return model.WorkflowResult{}, fmt.Errorf("load existing run: %w", err)
		}
		if existing.Terminal() {
			return model.WorkflowResult{}, model.NewConflictError(
				fmt.Sprintf("run %q is already %s", runID, existing.Status),
			)
		}
		run = existing
	}

	if c.metrics != nil {
		c.metrics.RunsStartedTotal.Inc()
		c.metrics.RunsActive.Inc()
		defer c.metrics.RunsActive.Dec()
		defer func() {
			c.metrics.RunDuration.Observe(time.Since(started).Seconds())
		}()
	}
	logger.Info("run started", zap.Int("steps", len(c.def.Steps)))

	// 2. Forward execution.
	var (
		completed []model.StepRecord
		prevRef   model.ArtifactRef
		failed    bool
	)
	for idx, stepDef := range c.def.Steps {
		rec, err := c.executeForward(ctx, logger, runID, idx, stepDef, initialInput, prevRef)
		if err != nil {
			failed = true
			break
		}
		completed = append(completed, rec)
		prevRef = rec.OutputRef
	}

	// 3. Success: no compensation.
	if !failed {
		c.finishRun(ctx, logger, &run, model.RunStatusSucceeded)
		return model.WorkflowResult{
			RunID:          runID,
			Success:        true,
			CompletedSteps: stepNames(completed),
		}, nil
	}

	// 4. Failure: undo completed steps in reverse order, best effort.
	clean := c.compensate(ctx, logger, runID, completed)

	status := model.RunStatusFailed
	if clean && len(completed) > 0 {
		status = model.RunStatusCompensated
	}
	c.finishRun(ctx, logger, &run, status)

	return model.WorkflowResult{
		RunID:            runID,
		Success:          false,
		CompletedSteps:   stepNames(completed),
		CompensatedSteps: reverseNames(completed),
	}, nil
}

// executeForward runs one step to completion, short-circuiting replays. The
// returned record is the completed step; any error means the run failed at
// this step and compensation must begin.
func (c *Coordinator) executeForward(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	idx int,
	stepDef model.StepDefinition,
	initialInput map[string]any,
	prevRef model.ArtifactRef,
) (model.StepRecord, error) {
	step, ok := c.steps.Get(stepDef.Name)
	if !ok {
		err := model.NewTerminalError(stepDef.Name, "step not registered", nil)
		c.recordFailure(ctx, logger, model.StepRecord{
			RunID: runID, StepName: stepDef.Name, SequenceIndex: idx,
			InputRef: prevRef,
		}, err.Error(), model.StepStatusFailed, nil)
		return model.StepRecord{}, err
	}

	// Idempotency: a completed record short-circuits to its recorded ref.
	prior, priorErr := c.store.GetStep(ctx, runID, stepDef.Name)
	if priorErr == nil && prior.Status == model.StepStatusCompleted {
		logger.Debug("step already completed, skipping",
			zap.String("step", stepDef.Name),
			zap.String("output_ref", prior.OutputRef.String()),
		)
		return prior, nil
	}

	// Advisory cache in front of the step records. A record that already
	// moved past completion (failed, compensating, compensated) means any
	// cached outcome points at an artifact compensation removed; the step
	// must re-execute.
	cacheUsable := priorErr != nil ||
		prior.Status == model.StepStatusPending ||
		prior.Status == model.StepStatusExecuting
	if c.cache != nil && cacheUsable {
		if outcome, hit, err := c.cache.Get(ctx, runID, stepDef.Name); err == nil && hit &&
			outcome.Status == model.OutcomeCompleted {
			if c.metrics != nil {
				c.metrics.OutcomeCacheHitsTotal.Inc()
			}
			rec := model.StepRecord{
				RunID: runID, StepName: stepDef.Name, SequenceIndex: idx,
				Status: model.StepStatusCompleted, InputRef: prevRef,
				OutputRef: outcome.Ref, Attempts: 1,
			}
			if err := c.store.UpsertStep(ctx, rec); err != nil {
				logger.Warn("persist cached step outcome", zap.Error(err))
			}
			return rec, nil
		} else if err == nil && !hit && c.metrics != nil {
			c.metrics.OutcomeCacheMissesTotal.Inc()
		}
	}

	rec := model.StepRecord{
		RunID:         runID,
		StepName:      stepDef.Name,
		SequenceIndex: idx,
		Status:        model.StepStatusExecuting,
		InputRef:      prevRef,
	}
	if err := c.store.UpsertStep(ctx, rec); err != nil {
		return model.StepRecord{}, err
	}

	in := StepInput{RunID: runID, PrevRef: prevRef}
	if idx == 0 {
		in.Initial = initialInput
	}
	if !prevRef.IsZero() {
		ref := prevRef
		in.Fetch = func(ctx context.Context, out any) error {
			return c.gateways.Fetch(ctx, ref, out)
		}
	}

	outcome, err := c.executeWithRetry(ctx, logger, step, stepDef, in, &rec)
	if err != nil {
		c.recordFailure(ctx, logger, rec, err.Error(), model.StepStatusFailed, nil)
		return model.StepRecord{}, err
	}

	// A rejection is a business verdict: the step ran cleanly but the run
	// must not proceed. Its own artifact is removed here; compensation then
	// covers only fully-completed steps.
	if outcome.Rejected() {
		if c.metrics != nil {
			c.metrics.StepRejectionsTotal.WithLabelValues(stepDef.Name).Inc()
		}
		logger.Info("step rejected",
			zap.String("step", stepDef.Name),
			zap.String("reason", outcome.Reason),
		)
		if !outcome.Ref.IsZero() {
			if _, derr := step.Compensate(ctx, outcome.Ref); derr != nil {
				logger.Warn("remove rejected step artifact",
					zap.String("step", stepDef.Name), zap.Error(derr))
			}
		}
		c.invalidateOutcome(ctx, logger, runID, stepDef.Name)
		c.recordFailure(ctx, logger, rec,
			fmt.Sprintf("rejected: %s", outcome.Reason), model.StepStatusFailed,
			outcome.Metadata)
		return model.StepRecord{}, model.NewTerminalError(stepDef.Name, outcome.Reason, nil)
	}

	rec.Status = model.StepStatusCompleted
	rec.OutputRef = outcome.Ref
	rec.Error = ""
	if err := c.store.UpsertStep(ctx, rec); err != nil {
		c.recordFailure(ctx, logger, rec, err.Error(), model.StepStatusFailed, nil)
		return model.StepRecord{}, err
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, runID, stepDef.Name, outcome); err != nil {
			logger.Debug("cache step outcome", zap.Error(err))
		}
	}

	logger.Info("step completed",
		zap.String("step", stepDef.Name),
		zap.String("output_ref", outcome.Ref.String()),
		zap.Int("attempts", rec.Attempts),
	)
	c.bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicStepCompleted,
		RunID:        runID,
		WorkflowName: c.def.Name,
		StepName:     stepDef.Name,
		Status:       model.StepStatusCompleted,
		Metadata:     outcome.Metadata,
	})
	return rec, nil
}

// executeWithRetry wraps a step execution with per-attempt timeout, breaker
// consultation, and exponential backoff on recoverable errors.
func (c *Coordinator) executeWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	step Step,
	stepDef model.StepDefinition,
	in StepInput,
	rec *model.StepRecord,
) (model.StepOutcome, error) {
	ctx, span := observability.StartSpan(ctx, "saga.step",
		observability.AttrRunID.String(in.RunID),
		observability.AttrStepName.String(stepDef.Name),
	)
	defer span.End()

	retry := c.retryFor(stepDef)
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeout := stepDef.Timeout
	if timeout <= 0 {
		timeout = c.cfg.StepTimeout
	}

	var breaker *Breaker
	if c.breakers != nil {
		breaker = c.breakers.forStep(stepDef.Name)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.StepRetriesTotal.WithLabelValues(stepDef.Name).Inc()
			}
			delay := calculateBackoff(retry, attempt)
			logger.Debug("retrying step",
				zap.String("step", stepDef.Name),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				observability.EndSpanWithError(span, ctx.Err())
				return model.StepOutcome{}, model.NewTerminalError(stepDef.Name, "run canceled", ctx.Err())
			case <-time.After(delay):
			}
		}

		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				observability.EndSpanWithError(span, err)
				return model.StepOutcome{}, model.NewTerminalError(stepDef.Name, "circuit breaker open", err)
			}
		}

		rec.Attempts++
		if err := c.store.UpsertStep(ctx, *rec); err != nil {
			logger.Warn("persist attempt count", zap.Error(err))
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		attemptStart := time.Now()
		outcome, err := step.Execute(stepCtx, in)
		cancel()

		if c.metrics != nil {
			c.metrics.ObserveStepDuration(stepDef.Name, time.Since(attemptStart))
		}

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
				c.observeBreaker(stepDef.Name, breaker)
			}
			return outcome, nil
		}

		if breaker != nil {
			breaker.RecordFailure()
			c.observeBreaker(stepDef.Name, breaker)
		}
		lastErr = err

		// A per-attempt timeout is recoverable until attempts run out.
		timedOut := errors.Is(err, context.DeadlineExceeded)
		if !model.IsRecoverable(err) && !timedOut {
			observability.EndSpanWithError(span, err)
			return model.StepOutcome{}, err
		}
		logger.Debug("step attempt failed",
			zap.String("step", stepDef.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}

	// Retries exhausted: the recoverable failure escalates to terminal.
	logger.Warn("step retries exhausted",
		zap.String("step", stepDef.Name),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	err := model.NewTerminalError(stepDef.Name,
		fmt.Sprintf("retries exhausted after %d attempts", maxAttempts), lastErr)
	observability.EndSpanWithError(span, err)
	return model.StepOutcome{}, err
}

// compensate undoes completed steps in reverse order. Every step is
// attempted even when an earlier compensation errors; the return reports
// whether the whole rollback was clean.
func (c *Coordinator) compensate(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	completed []model.StepRecord,
) bool {
	clean := true
	for i := len(completed) - 1; i >= 0; i-- {
		rec := completed[i]
		step, ok := c.steps.Get(rec.StepName)
		if !ok {
			clean = false
			continue
		}

		rec.Status = model.StepStatusCompensating
		if err := c.store.UpsertStep(ctx, rec); err != nil {
			logger.Warn("persist compensating status", zap.Error(err))
		}

		outcome, err := step.Compensate(ctx, rec.OutputRef)
		c.invalidateOutcome(ctx, logger, runID, rec.StepName)
		now := time.Now().UTC()
		if logErr := c.store.AppendCompensation(ctx, model.CompensationLog{
			RunID:         runID,
			StepName:      rec.StepName,
			CompensatedAt: now,
			RowsAffected:  outcome.RowsRemoved,
		}); logErr != nil {
			logger.Warn("append compensation log", zap.Error(logErr))
		}

		status := model.StepStatusCompensated
		if err != nil {
			// Best effort: log and keep unwinding the remaining steps.
			clean = false
			status = model.StepStatusFailed
			cerr := model.NewCompensationError(rec.StepName, "compensation failed", err)
			logger.Warn("compensation failed",
				zap.String("step", rec.StepName),
				zap.String("ref", rec.OutputRef.String()),
				zap.Error(cerr),
			)
			rec.Error = cerr.Error()
		} else {
			logger.Info("step compensated",
				zap.String("step", rec.StepName),
				zap.String("ref", rec.OutputRef.String()),
				zap.Int("rows_removed", outcome.RowsRemoved),
			)
		}

		rec.Status = status
		if uerr := c.store.UpsertStep(ctx, rec); uerr != nil {
			logger.Warn("persist compensated status", zap.Error(uerr))
		}
		c.bus.Publish(eventbus.Event{
			Topic:        eventbus.TopicStepCompensated,
			RunID:        runID,
			WorkflowName: c.def.Name,
			StepName:     rec.StepName,
			Status:       status,
		})

		if c.metrics != nil && err == nil {
			c.metrics.CompensationRowsRemoved.WithLabelValues(rec.StepName).
				Add(float64(outcome.RowsRemoved))
		}
	}
	return clean
}

// invalidateOutcome drops the advisory cache entry for a step whose
// artifact was removed. Cache failures never fail the run.
func (c *Coordinator) invalidateOutcome(ctx context.Context, logger *zap.Logger, runID, stepName string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, runID, stepName); err != nil {
		logger.Warn("invalidate step outcome cache",
			zap.String("step", stepName), zap.Error(err))
	}
}

// recordFailure persists a failed step record and publishes step.failed.
func (c *Coordinator) recordFailure(
	ctx context.Context,
	logger *zap.Logger,
	rec model.StepRecord,
	message, status string,
	metadata map[string]any,
) {
	rec.Status = status
	rec.Error = message
	if err := c.store.UpsertStep(ctx, rec); err != nil {
		logger.Warn("persist failed step record", zap.Error(err))
	}

	logger.Info("step failed",
		zap.String("step", rec.StepName),
		zap.String("error", message),
	)
	c.bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicStepFailed,
		RunID:        rec.RunID,
		WorkflowName: c.def.Name,
		StepName:     rec.StepName,
		Status:       status,
		Error:        message,
		Metadata:     metadata,
	})
}

// finishRun marks the run terminal and publishes run.terminal.
func (c *Coordinator) finishRun(ctx context.Context, logger *zap.Logger, run *model.WorkflowRun, status string) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if err := c.store.UpdateRun(ctx, *run); err != nil {
		logger.Error("persist terminal run status", zap.Error(err))
	}

	logger.Info("run finished", zap.String("status", status))
	c.bus.Publish(eventbus.Event{
		Topic:        eventbus.TopicRunTerminal,
		RunID:        run.RunID,
		WorkflowName: run.WorkflowName,
		Status:       status,
	})
}

func (c *Coordinator) observeBreaker(step string, b *Breaker) {
	if c.metrics != nil {
		c.metrics.BreakerState.WithLabelValues(step).Set(float64(b.State()))
	}
}

// retryFor merges a step's declared retry policy with the pipeline
// defaults.
func (c *Coordinator) retryFor(stepDef model.StepDefinition) model.RetryPolicy {
	retry := stepDef.Retry
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if retry.BackoffInitial == 0 {
		retry.BackoffInitial = c.cfg.Retry.BackoffInitial
	}
	if retry.BackoffMultiplier == 0 {
		retry.BackoffMultiplier = c.cfg.Retry.BackoffMultiplier
	}
	if retry.BackoffMax == 0 {
		retry.BackoffMax = c.cfg.Retry.BackoffMax
	}
	return retry
}

// calculateBackoff computes the delay before the given attempt (1-based for
// the first retry) with exponential growth capped at BackoffMax.
func calculateBackoff(retry model.RetryPolicy, attempt int) time.Duration {
	if retry.BackoffInitial <= 0 {
		retry.BackoffInitial = 100 * time.Millisecond
	}
	if retry.BackoffMultiplier <= 0 {
		retry.BackoffMultiplier = 2
	}
	if retry.BackoffMax <= 0 {
		retry.BackoffMax = 2 * time.Second
	}

	delay := retry.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * retry.BackoffMultiplier)
		if delay > retry.BackoffMax {
			delay = retry.BackoffMax
			break
		}
	}
	return delay
}

func stepNames(recs []model.StepRecord) []string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.StepName
	}
	return names
}

func reverseNames(recs []model.StepRecord) []string {
	names := make([]string, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		names = append(names, recs[i].StepName)
	}
	return names
}
