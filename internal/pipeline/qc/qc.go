// Package qc evaluates the produced draft and is the pipeline's branch
// point: a score below the configured threshold rejects the run.
package qc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

const Namespace = "qc"

const StepName = "qc"

// QcResult is this module's artifact. It is persisted for passing and
// failing drafts alike; a rejection removes it again during compensation.
type QcResult struct {
	ID          string    `json:"id"`
	DraftRef    string    `json:"draft_ref"`
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
	Findings    []string  `json:"findings,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// draftView is the slice of the upstream draft this module reads.
type draftView struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	WordCount int    `json:"word_count"`
}

// Evaluator is the external collaborator that scores a draft in [0, 1].
type Evaluator interface {
	Evaluate(ctx context.Context, title, body string) (score float64, findings []string, err error)
}

// LocalEvaluator applies cheap structural checks: a draft with a title and
// a non-trivial body passes, everything else loses points.
type LocalEvaluator struct{}

func (LocalEvaluator) Evaluate(_ context.Context, title, body string) (float64, []string, error) {
	score := 1.0
	var findings []string
	if strings.TrimSpace(title) == "" {
		score -= 0.5
		findings = append(findings, "missing title")
	}
	if len(strings.Fields(body)) < 50 {
		score -= 0.5
		findings = append(findings, "body under 50 words")
	}
	if score < 0 {
		score = 0
	}
	return score, findings, nil
}

// Step adapts the evaluator to the pipeline.
type Step struct {
	gw        gateway.Gateway
	evaluator Evaluator
	threshold float64
}

// New creates the qc step. Drafts scoring below threshold are rejected.
func New(gw gateway.Gateway, evaluator Evaluator, threshold float64) *Step {
	if evaluator == nil {
		evaluator = LocalEvaluator{}
	}
	return &Step{gw: gw, evaluator: evaluator, threshold: threshold}
}

func (s *Step) Name() string { return StepName }

func (s *Step) Execute(ctx context.Context, in saga.StepInput) (model.StepOutcome, error) {
	var draft draftView
	if err := in.Fetch(ctx, &draft); err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "loading draft", err)
	}

	score, findings, err := s.evaluator.Evaluate(ctx, draft.Title, draft.Body)
	if err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "evaluator unavailable", err)
	}

	passed := score >= s.threshold
	result := QcResult{
		ID:          in.ArtifactID(StepName),
		DraftRef:    in.PrevRef.String(),
		Score:       score,
		Passed:      passed,
		Findings:    findings,
		EvaluatedAt: time.Now().UTC(),
	}
	ref, err := s.gw.Save(ctx, result.ID, result)
	if err != nil {
		return model.StepOutcome{}, err
	}

	meta := map[string]any{
		"score":     score,
		"threshold": s.threshold,
		"verdict":   verdict(passed),
	}
	if !passed {
		return model.StepOutcome{
			Status:   model.OutcomeRejected,
			Ref:      ref,
			Metadata: meta,
			Reason:   fmt.Sprintf("quality score %.2f below threshold %.2f", score, s.threshold),
		}, nil
	}
	return model.StepOutcome{Status: model.OutcomeCompleted, Ref: ref, Metadata: meta}, nil
}

func (s *Step) Compensate(ctx context.Context, ref model.ArtifactRef) (model.CompensationOutcome, error) {
	deleted, err := s.gw.Delete(ctx, ref)
	if err != nil {
		return model.CompensationOutcome{}, err
	}
	if !deleted {
		return model.CompensationOutcome{}, nil
	}
	return model.CompensationOutcome{RowsRemoved: 1}, nil
}

func verdict(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
