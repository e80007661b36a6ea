// Package pipeline assembles the five content-production modules into a
// step registry over their gateway slices.
package pipeline

import (
	"fmt"

	"github.com/osoko/pressline/internal/config"
	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/pipeline/delivery"
	"github.com/osoko/pressline/internal/pipeline/intake"
	"github.com/osoko/pressline/internal/pipeline/production"
	"github.com/osoko/pressline/internal/pipeline/qc"
	"github.com/osoko/pressline/internal/pipeline/strategy"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

// DefaultWorkflowName names the built-in definition.
const DefaultWorkflowName = "content-pipeline"

// Namespaces returns the storage namespaces the modules own, in pipeline
// order. Every gateway set backing the pipeline must carry exactly these.
func Namespaces() []string {
	return []string{
		intake.Namespace,
		strategy.Namespace,
		production.Namespace,
		qc.Namespace,
		delivery.Namespace,
	}
}

// Collaborators overrides individual module collaborators. A nil field
// keeps the in-process default.
type Collaborators struct {
	Normalizer intake.Normalizer
	Strategist strategy.Strategist
	Producer   production.Producer
	Evaluator  qc.Evaluator
	Packager   delivery.Packager
}

// Register builds each module step over its own gateway slice from gws and
// registers it. The set must hold a gateway per module namespace.
func Register(reg *saga.Registry, gws *gateway.Set, cfg config.PipelineConfig, collab Collaborators) error {
	slice := func(ns string) (gateway.Gateway, error) {
		gw, err := gws.For(ns)
		if err != nil {
			return nil, fmt.Errorf("pipeline: missing gateway for %s: %w", ns, err)
		}
		return gw, nil
	}

	intakeGw, err := slice(intake.Namespace)
	if err != nil {
		return err
	}
	strategyGw, err := slice(strategy.Namespace)
	if err != nil {
		return err
	}
	productionGw, err := slice(production.Namespace)
	if err != nil {
		return err
	}
	qcGw, err := slice(qc.Namespace)
	if err != nil {
		return err
	}
	deliveryGw, err := slice(delivery.Namespace)
	if err != nil {
		return err
	}

	steps := []saga.Step{
		intake.New(intakeGw, collab.Normalizer),
		strategy.New(strategyGw, collab.Strategist),
		production.New(productionGw, collab.Producer),
		qc.New(qcGw, collab.Evaluator, cfg.QCThreshold),
		delivery.New(deliveryGw, collab.Packager),
	}
	for _, step := range steps {
		if err := reg.Register(step); err != nil {
			return err
		}
	}
	return nil
}

// DefaultDefinition returns the built-in five-step workflow definition used
// when no definition directory is configured.
func DefaultDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: DefaultWorkflowName,
		Steps: []model.StepDefinition{
			{Name: intake.StepName},
			{Name: strategy.StepName},
			{Name: production.StepName},
			{Name: qc.StepName},
			{Name: delivery.StepName},
		},
	}
}
