// Package gateway provides per-module artifact persistence with namespace
// isolation. Each pipeline module owns exactly one namespace; the gateway
// rejects any access to a ref from a foreign namespace at runtime. Isolation
// is logical only: no physical foreign keys cross module tables.
package gateway

import (
	"context"
	"fmt"
	"regexp"

	"github.com/osoko/pressline/model"
)

// Gateway persists artifacts for a single module namespace.
type Gateway interface {
	// Namespace returns the module namespace this gateway is bound to.
	Namespace() string

	// Save persists a payload under the given artifact ID and returns the
	// opaque ref. Saving an existing ID overwrites it, so step replays
	// converge on the same ref.
	Save(ctx context.Context, id string, payload any) (model.ArtifactRef, error)

	// Load decodes the artifact behind ref into out. Returns a NOT_FOUND
	// envelope for missing artifacts and a BOUNDARY_VIOLATION envelope when
	// ref belongs to a different namespace.
	Load(ctx context.Context, ref model.ArtifactRef, out any) error

	// Delete removes the artifact behind ref. Returns false with a nil
	// error when the artifact is already absent, so compensation replays
	// are no-ops.
	Delete(ctx context.Context, ref model.ArtifactRef) (bool, error)

	// Refs lists the refs of all live artifacts in this namespace.
	Refs(ctx context.Context) ([]model.ArtifactRef, error)
}

// OpsRecorder receives one call per gateway operation. Wired to metrics in
// the composition root; nil disables recording.
type OpsRecorder func(namespace, op string)

var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateNamespace rejects namespaces that cannot serve as table name
// suffixes.
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	return nil
}

// checkBoundary verifies that ref belongs to ns.
func checkBoundary(ns string, ref model.ArtifactRef) error {
	refNS, _, err := model.ParseArtifactRef(ref)
	if err != nil {
		return err
	}
	if refNS != ns {
		return model.NewBoundaryError(
			fmt.Sprintf("namespace %q cannot access ref %q", ns, ref),
		)
	}
	return nil
}

// Set holds one gateway per module namespace.
type Set struct {
	gateways map[string]Gateway
}

// NewSet builds a Set from the given gateways, keyed by namespace.
func NewSet(gws ...Gateway) *Set {
	s := &Set{gateways: make(map[string]Gateway, len(gws))}
	for _, gw := range gws {
		s.gateways[gw.Namespace()] = gw
	}
	return s
}

// For returns the gateway bound to the given namespace.
func (s *Set) For(namespace string) (Gateway, error) {
	gw, ok := s.gateways[namespace]
	if !ok {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("no gateway for namespace %q", namespace),
		)
	}
	return gw, nil
}

// Namespaces returns the registered namespaces.
func (s *Set) Namespaces() []string {
	out := make([]string, 0, len(s.gateways))
	for ns := range s.gateways {
		out = append(out, ns)
	}
	return out
}

// Fetch loads the artifact behind ref through the gateway owning its
// namespace. Used by the coordinator to hand steps a ref-bound accessor
// without exposing foreign gateways.
func (s *Set) Fetch(ctx context.Context, ref model.ArtifactRef, out any) error {
	ns, _, err := model.ParseArtifactRef(ref)
	if err != nil {
		return err
	}
	gw, err := s.For(ns)
	if err != nil {
		return err
	}
	return gw.Load(ctx, ref, out)
}
