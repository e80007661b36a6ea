package definition

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/osoko/pressline/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates workflow definitions structurally and referentially.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks all definitions. knownSteps names the steps registered in
// the process; nil skips the registration check.
func (v *Validator) Validate(defs []model.WorkflowDefinition, knownSteps map[string]bool) []VError {
	var errs []VError

	names := make(map[string]string) // workflow name -> source file
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateWorkflow(prefix, def, knownSteps)...)

		if def.Name != "" {
			if prev, dup := names[def.Name]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".name",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("workflow %q already defined in %s", def.Name, prev),
				})
			} else {
				names[def.Name] = def.SourceFile
			}
		}
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, def model.WorkflowDefinition, knownSteps map[string]bool) []VError {
	var errs []VError

	// Structural checks via struct tags.
	if err := v.validate.Struct(def); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, VError{
					Path:    prefix + "." + fe.Namespace(),
					Code:    "INVALID_FIELD",
					Message: fmt.Sprintf("field %s fails %q", fe.Field(), fe.Tag()),
				})
			}
		} else {
			errs = append(errs, VError{Path: prefix, Code: "INVALID", Message: err.Error()})
		}
	}

	// Referential checks.
	seen := make(map[string]bool)
	for i, step := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)

		if step.Name != "" && seen[step.Name] {
			errs = append(errs, VError{
				Path:    sp + ".name",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("step %q appears more than once", step.Name),
			})
		}
		seen[step.Name] = true

		if knownSteps != nil && step.Name != "" && !knownSteps[step.Name] {
			errs = append(errs, VError{
				Path:    sp + ".name",
				Code:    "UNKNOWN_STEP",
				Message: fmt.Sprintf("no registered step named %q", step.Name),
			})
		}

		if step.Retry.MaxAttempts > 0 && step.Retry.BackoffInitial <= 0 {
			errs = append(errs, VError{
				Path:    sp + ".retry.backoff_initial",
				Code:    "REQUIRED",
				Message: "backoff_initial must be positive when retries are enabled",
			})
		}
		if step.Retry.BackoffMultiplier != 0 && step.Retry.BackoffMultiplier < 1 {
			errs = append(errs, VError{
				Path:    sp + ".retry.backoff_multiplier",
				Code:    "INVALID_FIELD",
				Message: "backoff_multiplier must be >= 1",
			})
		}
	}

	return errs
}
