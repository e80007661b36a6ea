// Package integrity audits the invariant between step records and
// artifacts: every live artifact must be backed by a completed step record
// and every completed record's artifact must still load. Violations are
// reported as findings, never raised into a running workflow.
package integrity

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/observability"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

// Finding kinds.
const (
	KindOrphanArtifact = "orphan_artifact"
	KindDanglingRecord = "dangling_record"
)

// Finding is one detected consistency violation.
type Finding struct {
	Kind     string            `json:"kind"`
	Ref      model.ArtifactRef `json:"ref"`
	RunID    string            `json:"run_id,omitempty"`
	StepName string            `json:"step_name,omitempty"`
	Detail   string            `json:"detail"`
}

// Err wraps the finding as a CONSISTENCY_VIOLATION envelope for callers
// that want an error value.
func (f Finding) Err() error {
	return model.NewConsistencyError(f.Detail)
}

// Checker cross-references the run store against every module gateway.
type Checker struct {
	store    saga.RunStore
	gateways *gateway.Set
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewChecker creates an integrity checker. metrics may be nil.
func NewChecker(store saga.RunStore, gateways *gateway.Set, logger *zap.Logger, metrics *observability.Metrics) *Checker {
	return &Checker{store: store, gateways: gateways, logger: logger, metrics: metrics}
}

// Check runs one audit pass and returns the findings. A clean system
// returns an empty slice.
func (c *Checker) Check(ctx context.Context) ([]Finding, error) {
	records, err := c.store.ListCompletedSteps(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[model.ArtifactRef]model.StepRecord, len(records))
	for _, rec := range records {
		if !rec.OutputRef.IsZero() {
			live[rec.OutputRef] = rec
		}
	}

	var findings []Finding

	// Artifacts nothing completed claims to have produced.
	for _, ns := range c.gateways.Namespaces() {
		gw, err := c.gateways.For(ns)
		if err != nil {
			return nil, err
		}
		refs, err := gw.Refs(ctx)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if _, ok := live[ref]; !ok {
				findings = append(findings, Finding{
					Kind:   KindOrphanArtifact,
					Ref:    ref,
					Detail: "artifact " + ref.String() + " has no completed step record",
				})
			}
		}
	}

	// Completed records whose artifact is gone.
	for _, rec := range records {
		if rec.OutputRef.IsZero() {
			continue
		}
		var raw json.RawMessage
		err := c.gateways.Fetch(ctx, rec.OutputRef, &raw)
		if model.IsNotFound(err) {
			findings = append(findings, Finding{
				Kind:     KindDanglingRecord,
				Ref:      rec.OutputRef,
				RunID:    rec.RunID,
				StepName: rec.StepName,
				Detail:   "completed step " + rec.StepName + " of run " + rec.RunID + " points at missing artifact " + rec.OutputRef.String(),
			})
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	c.report(findings)
	return findings, nil
}

func (c *Checker) report(findings []Finding) {
	for _, f := range findings {
		c.logger.Warn("integrity finding",
			zap.String("kind", f.Kind),
			zap.String("ref", f.Ref.String()),
			zap.String("run_id", f.RunID),
			zap.String("step_name", f.StepName),
		)
		if c.metrics != nil {
			c.metrics.IntegrityFindingsTotal.WithLabelValues(f.Kind).Inc()
		}
	}
}

// RunPeriodic audits on a fixed interval until ctx is cancelled. Audit
// errors are logged and the loop continues.
func (c *Checker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Check(ctx); err != nil {
				c.logger.Error("integrity audit failed", zap.Error(err))
			}
		}
	}
}
