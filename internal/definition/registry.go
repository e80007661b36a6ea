package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/osoko/pressline/model"
)

// snapshot is an immutable collection of workflow definitions indexed by name.
type snapshot struct {
	workflows map[string]model.WorkflowDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of loaded workflow
// definitions. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.WorkflowDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.WorkflowDefinition) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowDefinition, len(defs)),
	}

	var checksumParts []string
	for _, def := range defs {
		s.workflows[def.Name] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given name.
func (r *Registry) GetWorkflow(name string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[name]
	return w, ok
}

// WorkflowNames returns the loaded workflow names sorted alphabetically.
func (r *Registry) WorkflowNames() []string {
	snap := r.current()
	names := make([]string, 0, len(snap.workflows))
	for name := range snap.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded workflows.
func (r *Registry) Len() int {
	return len(r.current().workflows)
}

// Loaded reports whether at least one workflow definition is present. Used
// by the readiness endpoint.
func (r *Registry) Loaded() bool {
	return r.Len() > 0
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
