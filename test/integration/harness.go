// Package integration provides a reusable test harness for end-to-end
// testing of the pressline server: a full HTTP server over an in-memory
// run store and per-module gateways.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/osoko/pressline/internal/config"
	"github.com/osoko/pressline/internal/definition"
	"github.com/osoko/pressline/internal/eventbus"
	"github.com/osoko/pressline/internal/gateway"
	"github.com/osoko/pressline/internal/pipeline"
	"github.com/osoko/pressline/internal/saga"
	"github.com/osoko/pressline/internal/transport"
	"github.com/osoko/pressline/model"
)

// TestHarness encapsulates a fully wired pressline instance.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Coordinator *saga.Coordinator
	Store       *saga.MemoryRunStore
	Gateways    *gateway.Set
	Bus         *eventbus.Bus
	Registry    *definition.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	pipeline config.PipelineConfig
	collab   pipeline.Collaborators
}

// WithQCThreshold overrides the quality gate.
func WithQCThreshold(threshold float64) HarnessOption {
	return func(c *harnessConfig) {
		c.pipeline.QCThreshold = threshold
	}
}

// WithCollaborators overrides module collaborators, e.g. to inject
// failures.
func WithCollaborators(collab pipeline.Collaborators) HarnessOption {
	return func(c *harnessConfig) {
		c.collab = collab
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(retry config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.pipeline.Retry = retry
	}
}

// NewTestHarness builds and starts a server. The server is shut down via
// t.Cleanup.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		pipeline: config.PipelineConfig{
			StepTimeout: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        5 * time.Millisecond,
			},
			QCThreshold: 0.7,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	var gws []gateway.Gateway
	for _, ns := range pipeline.Namespaces() {
		gw, err := gateway.NewMemoryGateway(ns, nil)
		if err != nil {
			t.Fatalf("harness: gateway %s: %v", ns, err)
		}
		gws = append(gws, gw)
	}
	set := gateway.NewSet(gws...)

	steps := saga.NewStepRegistry()
	if err := pipeline.Register(steps, set, hc.pipeline, hc.collab); err != nil {
		t.Fatalf("harness: register pipeline: %v", err)
	}

	def := pipeline.DefaultDefinition()
	registry := definition.NewRegistry([]model.WorkflowDefinition{def})
	store := saga.NewMemoryRunStore()
	bus := eventbus.New()

	coord := saga.NewCoordinator(hc.pipeline, def, steps, store, set, bus, zap.NewNop())

	router := transport.NewRouter(transport.Dependencies{
		Runner:        coord,
		WorkflowNames: registry.WorkflowNames,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestHarness{
		t:           t,
		server:      server,
		Coordinator: coord,
		Store:       store,
		Gateways:    set,
		Bus:         bus,
		Registry:    registry,
	}
}

// URL returns the base URL of the running server.
func (h *TestHarness) URL() string {
	return h.server.URL
}

// POST sends a JSON POST request.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("harness: encode body: %v", err)
		}
	}
	resp, err := h.server.Client().Post(h.server.URL+path, "application/json", &buf)
	if err != nil {
		h.t.Fatalf("harness: POST %s: %v", path, err)
	}
	return resp
}

// GET sends a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()

	resp, err := h.server.Client().Get(h.server.URL + path)
	if err != nil {
		h.t.Fatalf("harness: GET %s: %v", path, err)
	}
	return resp
}

// AssertJSON checks the status code and decodes the response body into out.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, wantStatus int, out any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode body %q: %v", body, err)
		}
	}
}

// SurvivingArtifacts counts live artifacts per module namespace.
func (h *TestHarness) SurvivingArtifacts() (map[string]int, error) {
	out := make(map[string]int)
	for _, ns := range h.Gateways.Namespaces() {
		gw, err := h.Gateways.For(ns)
		if err != nil {
			return nil, err
		}
		refs, err := gw.Refs(context.Background())
		if err != nil {
			return nil, fmt.Errorf("refs of %s: %w", ns, err)
		}
		out[ns] = len(refs)
	}
	return out, nil
}
