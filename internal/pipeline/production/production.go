// Package production drafts the content from the strategy outline.
package production

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

const Namespace = "production"

const StepName = "production"

// ProductionDraft is this module's artifact.
type ProductionDraft struct {
	ID          string    `json:"id"`
	StrategyRef string    `json:"strategy_ref"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	WordCount   int       `json:"word_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// strategyView is the slice of the upstream document this module reads.
type strategyView struct {
	Angle    string `json:"angle"`
	Sections []struct {
		Heading    string `json:"heading"`
		WordBudget int    `json:"word_budget"`
	} `json:"sections"`
}

// Producer is the external collaborator that writes the draft.
type Producer interface {
	Draft(ctx context.Context, angle string, headings []string, wordBudgets []int) (title, body string, err error)
}

// LocalProducer emits placeholder prose sized to each section's budget.
type LocalProducer struct{}

func (LocalProducer) Draft(_ context.Context, angle string, headings []string, wordBudgets []int) (string, string, error) {
	var b strings.Builder
	for i, h := range headings {
		fmt.Fprintf(&b, "## %s\n\n", h)
		words := 0
		if i < len(wordBudgets) {
			words = wordBudgets[i]
		}
		for w := 0; w < words; w++ {
			b.WriteString("lorem ")
		}
		b.WriteString("\n\n")
	}
	return angle, b.String(), nil
}

// Step adapts the producer to the pipeline.
type Step struct {
	gw       gateway.Gateway
	producer Producer
}

func New(gw gateway.Gateway, producer Producer) *Step {
	if producer == nil {
		producer = LocalProducer{}
	}
	return &Step{gw: gw, producer: producer}
}

func (s *Step) Name() string { return StepName }

func (s *Step) Execute(ctx context.Context, in saga.StepInput) (model.StepOutcome, error) {
	var strat strategyView
	if err := in.Fetch(ctx, &strat); err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "loading strategy document", err)
	}

	headings := make([]string, 0, len(strat.Sections))
	budgets := make([]int, 0, len(strat.Sections))
	for _, sec := range strat.Sections {
		headings = append(headings, sec.Heading)
		budgets = append(budgets, sec.WordBudget)
	}

	title, body, err := s.producer.Draft(ctx, strat.Angle, headings, budgets)
	if err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "producer unavailable", err)
	}

	draft := ProductionDraft{
		ID:          in.ArtifactID(StepName),
		StrategyRef: in.PrevRef.String(),
		Title:       title,
		Body:        body,
		WordCount:   len(strings.Fields(body)),
		CreatedAt:   time.Now().UTC(),
	}
	ref, err := s.gw.Save(ctx, draft.ID, draft)
	if err != nil {
		return model.StepOutcome{}, err
	}
	return model.StepOutcome{
		Status:   model.OutcomeCompleted,
		Ref:      ref,
		Metadata: map[string]any{"word_count": draft.WordCount},
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
