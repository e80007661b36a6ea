package model

// Step outcome status constants. A step that runs without error either
// completes or rejects; rejection is a business verdict, not an exception,
// but the coordinator compensates identically for both.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
)

// StepOutcome is the tagged result of a step's execute.
type StepOutcome struct {
	Status   string         `json:"status"`
	Ref      ArtifactRef    `json:"ref,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Reason explains a rejection in operator terms. Empty for completions.
	Reason string `json:"reason,omitempty"`
}

// Rejected reports whether the outcome is a business rejection.
func (o StepOutcome) Rejected() bool {
	return o.Status == OutcomeRejected
}

// CompensationOutcome reports what a compensate call actually undid.
// RowsRemoved is 0 when the ref was already compensated.
type CompensationOutcome struct {
	RowsRemoved int `json:"rows_removed"`
}
