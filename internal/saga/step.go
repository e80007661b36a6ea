// Package saga runs declarative pipelines forward and, on failure, undoes
// every completed step in reverse order.
package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/osoko/pressline/model"
)

// Fetcher loads the artifact behind the ref it was bound to. Steps decode
// into their own view structs; no step imports another module's types.
type Fetcher func(ctx context.Context, out any) error

// StepInput is everything a step may see when executing.
type StepInput struct {
	RunID string

	// Initial carries the caller-supplied input. Only the first step of a
	// pipeline receives it.
	Initial map[string]any

	// PrevRef is the previous step's opaque output ref; zero for the first
	// step. Fetch is bound to it.
	PrevRef model.ArtifactRef
	Fetch   Fetcher
}

// ArtifactID derives a stable artifact ID from (run, step). A replayed
// Execute saves over the same ref instead of orphaning an earlier attempt's
// artifact, so idempotency holds at the storage layer too.
func (in StepInput) ArtifactID(stepName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(in.RunID+"/"+stepName)).String()
}

// Step is the port every pipeline module implements. Execute persists
// exactly one artifact through the module's own gateway and returns its ref.
// Compensate removes the artifact behind ref and reports how many rows it
// actually undid; on an already-removed ref it is a no-op.
type Step interface {
	Name() string
	Execute(ctx context.Context, in StepInput) (model.StepOutcome, error)
	Compensate(ctx context.Context, ref model.ArtifactRef) (model.CompensationOutcome, error)
}

// Registry holds the steps registered in this process, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewStepRegistry creates an empty step registry.
func NewStepRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step. Registering a duplicate name is a programming error.
func (r *Registry) Register(step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[step.Name()]; exists {
		return model.NewConflictError(
			fmt.Sprintf("step %q already registered", step.Name()),
		)
	}
	r.steps[step.Name()] = step
	return nil
}

// Get returns the step with the given name.
func (r *Registry) Get(name string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	return s, ok
}

// Names returns the registered step names as a set, for definition
// validation.
func (r *Registry) Names() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make(map[string]bool, len(r.steps))
	for name := range r.steps {
		names[name] = true
	}
	return names
}

// SortedNames returns the registered step names sorted alphabetically.
func (r *Registry) SortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
