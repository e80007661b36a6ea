package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/osoko/pressline/model"
)

// MemoryGateway is an in-memory Gateway for tests and ephemeral runs.
// Payloads are stored as JSON so Load decodes into the caller's own view
// struct exactly as the relational gateway does.
type MemoryGateway struct {
	namespace string
	record    OpsRecorder

	mu        sync.RWMutex
	artifacts map[string][]byte // key: artifact ID
}

// NewMemoryGateway creates an in-memory gateway for one namespace.
func NewMemoryGateway(namespace string, record OpsRecorder) (*MemoryGateway, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	return &MemoryGateway{
		namespace: namespace,
		record:    record,
		artifacts: make(map[string][]byte),
	}, nil
}

// Namespace returns the bound module namespace.
func (g *MemoryGateway) Namespace() string {
	return g.namespace
}

// Save persists the payload under id, overwriting any previous version.
func (g *MemoryGateway) Save(_ context.Context, id string, payload any) (model.ArtifactRef, error) {
	g.recordOp("save")

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal artifact %q: %w", id, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.artifacts[id] = data

	return model.NewArtifactRef(g.namespace, id), nil
}

// Load decodes the artifact behind ref into out.
func (g *MemoryGateway) Load(_ context.Context, ref model.ArtifactRef, out any) error {
	g.recordOp("load")

	if err := checkBoundary(g.namespace, ref); err != nil {
		return err
	}

	g.mu.RLock()
	data, exists := g.artifacts[ref.ID()]
	g.mu.RUnlock()

	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("artifact %q not found", ref))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal artifact %q: %w", ref, err)
	}
	return nil
}

// Delete removes the artifact behind ref. Absent artifacts are a no-op.
func (g *MemoryGateway) Delete(_ context.Context, ref model.ArtifactRef) (bool, error) {
	g.recordOp("delete")

	if err := checkBoundary(g.namespace, ref); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.artifacts[ref.ID()]; !exists {
		return false, nil
	}
	delete(g.artifacts, ref.ID())
	return true, nil
}

// Refs lists refs of all live artifacts, sorted by ID.
func (g *MemoryGateway) Refs(_ context.Context) ([]model.ArtifactRef, error) {
	g.recordOp("refs")

	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.artifacts))
	for id := range g.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	refs := make([]model.ArtifactRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, model.NewArtifactRef(g.namespace, id))
	}
	return refs, nil
}

// Len returns the number of live artifacts. For testing.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.artifacts)
}

func (g *MemoryGateway) recordOp(op string) {
	if g.record != nil {
		g.record(g.namespace, op)
	}
}
