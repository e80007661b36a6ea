// Package strategy turns a normalized brief into a StrategyDocument: an
// ordered outline with per-section word budgets.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

const Namespace = "strategy"

const StepName = "strategy"

// StrategyDocument is this module's artifact.
type StrategyDocument struct {
	ID        string    `json:"id"`
	BriefRef  string    `json:"brief_ref"`
	Angle     string    `json:"angle"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
}

// Section is one planned part of the piece.
type Section struct {
	Heading    string `json:"heading"`
	WordBudget int    `json:"word_budget"`
}

// briefView is the slice of the upstream brief this module reads. It is a
// local decode target, not an import of the intake module's type.
type briefView struct {
	Topic      string `json:"topic"`
	Audience   string `json:"audience"`
	Tone       string `json:"tone"`
	WordTarget int    `json:"word_target"`
}

// Strategist is the external collaborator that plans the piece.
type Strategist interface {
	Plan(ctx context.Context, topic, audience, tone string, wordTarget int) (angle string, sections []Section, err error)
}

// LocalStrategist produces a fixed three-part outline splitting the word
// target evenly.
type LocalStrategist struct{}

func (LocalStrategist) Plan(_ context.Context, topic, audience, _ string, wordTarget int) (string, []Section, error) {
	per := wordTarget / 3
	return fmt.Sprintf("%s for %s", topic, audience), []Section{
		{Heading: "Introduction", WordBudget: per},
		{Heading: "Core", WordBudget: wordTarget - 2*per},
		{Heading: "Conclusion", WordBudget: per},
	}, nil
}

// Step adapts the strategist to the pipeline.
type Step struct {
	gw         gateway.Gateway
	strategist Strategist
}

func New(gw gateway.Gateway, strategist Strategist) *Step {
	if strategist == nil {
		strategist = LocalStrategist{}
	}
	return &Step{gw: gw, strategist: strategist}
}

func (s *Step) Name() string { return StepName }

func (s *Step) Execute(ctx context.Context, in saga.StepInput) (model.StepOutcome, error) {
	var brief briefView
	if err := in.Fetch(ctx, &brief); err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "loading brief", err)
	}

	angle, sections, err := s.strategist.Plan(ctx, brief.Topic, brief.Audience, brief.Tone, brief.WordTarget)
	if err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "strategist unavailable", err)
	}
	if len(sections) == 0 {
		return model.StepOutcome{}, model.NewTerminalError(StepName, "strategist returned an empty outline", nil)
	}

	doc := StrategyDocument{
		ID:        in.ArtifactID(StepName),
		BriefRef:  in.PrevRef.String(),
		Angle:     angle,
		Sections:  sections,
		CreatedAt: time.Now().UTC(),
	}
	ref, err := s.gw.Save(ctx, doc.ID, doc)
	if err != nil {
		return model.StepOutcome{}, err
	}
	return model.StepOutcome{
		Status:   model.OutcomeCompleted,
		Ref:      ref,
		Metadata: map[string]any{"sections": len(sections)},
	}, nil
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
