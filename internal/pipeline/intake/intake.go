// Package intake normalizes the caller-supplied request into a Brief, the
// first artifact of the pipeline.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

// Namespace is the storage namespace this module owns.
const Namespace = "intake"

// StepName is the name this module registers under.
const StepName = "intake"

// Brief is the normalized content request. Downstream modules never import
// this type; they decode the fields they need from the ref.
type Brief struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Audience     string    `json:"audience"`
	Tone         string    `json:"tone"`
	WordTarget   int       `json:"word_target"`
	Keywords     []string  `json:"keywords,omitempty"`
	NormalizedAt time.Time `json:"normalized_at"`
}

// request is the shape expected from the caller's initial input.
type request struct {
	Topic      string   `validate:"required,min=3"`
	Audience   string   `validate:"omitempty,min=3"`
	Tone       string   `validate:"omitempty,oneof=formal casual technical playful"`
	WordTarget int      `validate:"omitempty,gte=50,lte=20000"`
	Keywords   []string `validate:"omitempty,dive,min=2"`
}

// Normalizer is the external collaborator that cleans up a raw request.
type Normalizer interface {
	Normalize(ctx context.Context, topic, audience, tone string) (topicOut, audienceOut, toneOut string, err error)
}

// LocalNormalizer is the in-process collaborator: trims and lowercases tone,
// fills defaults.
type LocalNormalizer struct{}

func (LocalNormalizer) Normalize(_ context.Context, topic, audience, tone string) (string, string, string, error) {
	topic = strings.TrimSpace(topic)
	audience = strings.TrimSpace(audience)
	if audience == "" {
		audience = "general"
	}
	tone = strings.ToLower(strings.TrimSpace(tone))
	if tone == "" {
		tone = "formal"
	}
	return topic, audience, tone, nil
}

// Step adapts the normalizer to the pipeline.
type Step struct {
	gw         gateway.Gateway
	normalizer Normalizer
	validate   *validator.Validate
}

// New creates the intake step over its own gateway slice.
func New(gw gateway.Gateway, normalizer Normalizer) *Step {
	if normalizer == nil {
		normalizer = LocalNormalizer{}
	}
	return &Step{
		gw:         gw,
		normalizer: normalizer,
		validate:   validator.New(),
	}
}

func (s *Step) Name() string { return StepName }

// Execute validates the initial input, normalizes it through the
// collaborator, and persists the Brief. Validation failures are terminal;
// there is nothing to retry.
func (s *Step) Execute(ctx context.Context, in saga.StepInput) (model.StepOutcome, error) {
	req := decodeRequest(in.Initial)
	if err := s.validate.Struct(req); err != nil {
		return model.StepOutcome{}, model.NewTerminalError(StepName,
			fmt.Sprintf("invalid request: %v", err), err)
	}

	topic, audience, tone, err := s.normalizer.Normalize(ctx, req.Topic, req.Audience, req.Tone)
	if err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "normalizer unavailable", err)
	}

	wordTarget := req.WordTarget
	if wordTarget == 0 {
		wordTarget = 800
	}

	brief := Brief{
		ID:           in.ArtifactID(StepName),
		Topic:        topic,
		Audience:     audience,
		Tone:         tone,
		WordTarget:   wordTarget,
		Keywords:     req.Keywords,
		NormalizedAt: time.Now().UTC(),
	}

	ref, err := s.gw.Save(ctx, brief.ID, brief)
	if err != nil {
		return model.StepOutcome{}, err
	}
	return model.StepOutcome{
		Status: model.OutcomeCompleted,
		Ref:    ref,
		Metadata: map[string]any{
			"topic":       brief.Topic,
			"word_target": brief.WordTarget,
		},
	}, nil
}

// Compensate removes the Brief behind ref.
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

func decodeRequest(initial map[string]any) request {
	var req request
	if v, ok := initial["topic"].(string); ok {
		req.Topic = v
	}
	if v, ok := initial["audience"].(string); ok {
		req.Audience = v
	}
	if v, ok := initial["tone"].(string); ok {
		req.Tone = v
	}
	switch v := initial["word_target"].(type) {
	case int:
		req.WordTarget = v
	case float64:
		req.WordTarget = int(v)
	}
	if vs, ok := initial["keywords"].([]any); ok {
		for _, v := range vs {
			if kw, ok := v.(string); ok {
				req.Keywords = append(req.Keywords, kw)
			}
		}
	}
	return req
}
