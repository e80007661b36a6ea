// Package eventbus provides an in-process, synchronous publish/subscribe bus
// for step lifecycle events. Dispatch happens in subscriber registration
// order inside the publisher's goroutine, so subscriber side effects complete
// before the coordinator advances. Events are not persisted.
package eventbus

import (
	"sync"
	"time"
)

// Topic identifies an event channel.
type Topic string

// Lifecycle topics.
const (
	TopicStepCompleted   Topic = "step.completed"
	TopicStepFailed      Topic = "step.failed"
	TopicStepCompensated Topic = "step.compensated"
	TopicRunTerminal     Topic = "run.terminal"
)

// Event is a small, low-volume lifecycle record. Large payloads do not
// belong here; artifacts travel through the persistence gateway.
type Event struct {
	Topic        Topic
	RunID        string
	WorkflowName string
	StepName     string
	At           time.Time

	// Status carries the step or run status at publish time.
	Status string
	// Error is the human-oriented failure detail, if any.
	Error string
	// Metadata carries small step-outcome annotations (e.g. the QC verdict).
	Metadata map[string]any
}

// Handler consumes one event. Handlers run synchronously; a slow handler
// stalls the run that published the event.
type Handler func(Event)

// Bus is a synchronous in-process pub/sub bus. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
	all  []Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for one topic. Handlers fire in
// registration order.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// SubscribeAll registers a handler for every topic. All-topic handlers fire
// after topic-specific ones, in registration order.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches the event to all matching handlers and returns once
// every handler has run.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	topic := make([]Handler, len(b.subs[evt.Topic]))
	copy(topic, b.subs[evt.Topic])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	for _, h := range topic {
		h(evt)
	}
	for _, h := range all {
		h(evt)
	}
}
