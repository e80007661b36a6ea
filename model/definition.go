package model

import "time"

// WorkflowDefinition is the declarative, ordered step list for one pipeline.
// Compensation needs no separate mapping: each step's adapter pairs its own
// execute with its own compensate.
type WorkflowDefinition struct {
	Name  string           `yaml:"name" json:"name" validate:"required"`
	Steps []StepDefinition `yaml:"steps" json:"steps" validate:"required,min=1,dive"`

	// Populated by the loader.
	SourceFile string `yaml:"-" json:"-"`
	Checksum   string `yaml:"-" json:"-"`
}

// StepDefinition configures one step of the pipeline.
type StepDefinition struct {
	Name    string        `yaml:"name" json:"name" validate:"required"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	Retry   RetryPolicy   `yaml:"retry" json:"retry"`
}

// RetryPolicy bounds retries of recoverable step failures.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts" validate:"min=0,max=10"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" json:"backoff_initial" validate:"min=0"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier" validate:"min=0"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max" validate:"min=0"`
}

// StepNames returns the declared step order.
func (d WorkflowDefinition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// StepByName looks up a step definition by name.
func (d WorkflowDefinition) StepByName(name string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDefinition{}, false
}
