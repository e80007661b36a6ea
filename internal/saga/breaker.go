package saga

import (
	"fmt"
	"sync"
	"time"

	"github.com/osoko/pressline/internal/config"
)

// BreakerState represents the current state of a step circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows executions through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects executions immediately.
	BreakerOpen
	// BreakerHalfOpen allows a probe execution through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips a step after consecutive failures so a broken collaborator
// fails runs fast instead of burning the retry budget of every run. Safe
// for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
}

// NewBreaker creates a breaker with the given thresholds.
// failureThreshold: consecutive failures to trip from Closed to Open.
// successThreshold: consecutive successes in HalfOpen to return to Closed.
// timeout: duration to stay Open before transitioning to HalfOpen.
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow checks whether an execution should be allowed through.
// Returns nil if allowed, or an error if the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) > b.timeout {
			b.state = BreakerHalfOpen
			b.successes = 0
			return nil
		}
		return fmt.Errorf("circuit breaker is open")
	default:
		return nil
	}
}

// RecordSuccess records a successful execution.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed execution.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		// Probe failed, reopen.
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSet lazily creates one breaker per step.
type breakerSet struct {
	cfg config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func newBreakerSet(cfg config.BreakerConfig) *breakerSet {
	return &breakerSet{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (s *breakerSet) forStep(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(s.cfg.FailureThreshold, s.cfg.SuccessThreshold, s.cfg.Timeout)
		s.breakers[name] = b
	}
	return b
}
