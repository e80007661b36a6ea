// Package delivery packages an approved draft for handoff.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/model"
)

const Namespace = "delivery"

const StepName = "delivery"

// DeliveryPackage is this module's artifact: the final handoff record.
type DeliveryPackage struct {
	ID          string    `json:"id"`
	QcRef       string    `json:"qc_ref"`
	Format      string    `json:"format"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int       `json:"size_bytes"`
	PackagedAt  time.Time `json:"packaged_at"`
	Destination string    `json:"destination"`
}

// qcView is the slice of the upstream result this module reads. Delivery
// refuses to package a failing result; by the time this step runs the
// coordinator has already stopped rejected runs, so a failing result here
// is a wiring defect, not a business outcome.
type qcView struct {
	DraftRef string  `json:"draft_ref"`
	Score    float64 `json:"score"`
	Passed   bool    `json:"passed"`
}

// Packager is the external collaborator that renders the final package.
type Packager interface {
	Package(ctx context.Context, draftRef string) (format, destination string, payload []byte, err error)
}

// LocalPackager emits a markdown handoff record addressed to a local spool.
type LocalPackager struct{}

func (LocalPackager) Package(_ context.Context, draftRef string) (string, string, []byte, error) {
	payload := []byte("# Delivery\n\ndraft: " + draftRef + "\n")
	return "markdown", "spool://outbox", payload, nil
}

// Step adapts the packager to the pipeline.
type Step struct {
	gw       gateway.Gateway
	packager Packager
}

func New(gw gateway.Gateway, packager Packager) *Step {
	if packager == nil {
		packager = LocalPackager{}
	}
	return &Step{gw: gw, packager: packager}
}

func (s *Step) Name() string { return StepName }

func (s *Step) Execute(ctx context.Context, in saga.StepInput) (model.StepOutcome, error) {
	var qc qcView
	if err := in.Fetch(ctx, &qc); err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "loading qc result", err)
	}
	if !qc.Passed {
		return model.StepOutcome{}, model.NewTerminalError(StepName, "refusing to package a failing qc result", nil)
	}

	format, destination, payload, err := s.packager.Package(ctx, qc.DraftRef)
	if err != nil {
		return model.StepOutcome{}, model.NewRecoverableError(StepName, "packager unavailable", err)
	}

	sum := sha256.Sum256(payload)
	pkg := DeliveryPackage{
		ID:          in.ArtifactID(StepName),
		QcRef:       in.PrevRef.String(),
		Format:      format,
		Checksum:    hex.EncodeToString(sum[:]),
		SizeBytes:   len(payload),
		PackagedAt:  time.Now().UTC(),
		Destination: destination,
	}
	ref, err := s.gw.Save(ctx, pkg.ID, pkg)
	if err != nil {
		return model.StepOutcome{}, err
	}
	return model.StepOutcome{
		Status:   model.OutcomeCompleted,
		Ref:      ref,
		Metadata: map[string]any{"format": format, "size_bytes": pkg.SizeBytes},
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
