package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/osoko/pressline/model"
)

// OutcomeCache sits in front of the step records as a fast idempotency
// check. It is advisory only: a miss falls through to the RunStore, and a
// cache failure never fails a run.
type OutcomeCache interface {
	// Get looks up a cached outcome for (runID, stepName).
	Get(ctx context.Context, runID, stepName string) (model.StepOutcome, bool, error)

	// Put caches a step outcome with the store's TTL.
	Put(ctx context.Context, runID, stepName string, outcome model.StepOutcome) error

	// Invalidate drops the cached outcome for (runID, stepName). Called
	// when a step is compensated or rejected, so a later replay cannot
	// resurrect a ref whose artifact is gone.
	Invalidate(ctx context.Context, runID, stepName string) error
}

// FormatOutcomeKey builds the standard cache key.
func FormatOutcomeKey(runID, stepName string) string {
	return fmt.Sprintf("step:%s:%s", runID, stepName)
}

// --- MemoryOutcomeCache ---

// MemoryOutcomeCache is an in-memory OutcomeCache with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryOutcomeCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	outcome   model.StepOutcome
	expiresAt time.Time
}

// NewMemoryOutcomeCache creates a new in-memory outcome cache.
func NewMemoryOutcomeCache(ttl time.Duration) *MemoryOutcomeCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryOutcomeCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

// Get looks up a cached outcome.
func (c *MemoryOutcomeCache) Get(_ context.Context, runID, stepName string) (model.StepOutcome, bool, error) {
	key := FormatOutcomeKey(runID, stepName)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return model.StepOutcome{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return model.StepOutcome{}, false, nil
	}
	return entry.outcome, true, nil
}

// Put caches an outcome with the configured TTL.
func (c *MemoryOutcomeCache) Put(_ context.Context, runID, stepName string, outcome model.StepOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[FormatOutcomeKey(runID, stepName)] = &cacheEntry{
		outcome:   outcome,
		expiresAt: time.Now().Add(c.ttl),
	}
	return nil
}

// Invalidate removes the entry for (runID, stepName).
func (c *MemoryOutcomeCache) Invalidate(_ context.Context, runID, stepName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, FormatOutcomeKey(runID, stepName))
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (c *MemoryOutcomeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// --- RedisOutcomeCache ---

// RedisOutcomeCache is a Redis-backed OutcomeCache with TTL.
type RedisOutcomeCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisOutcomeCache creates a new Redis-backed outcome cache.
func NewRedisOutcomeCache(client redis.Cmdable, ttl time.Duration) *RedisOutcomeCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisOutcomeCache{client: client, ttl: ttl}
}

// Get looks up a cached outcome in Redis.
func (c *RedisOutcomeCache) Get(ctx context.Context, runID, stepName string) (model.StepOutcome, bool, error) {
	key := FormatOutcomeKey(runID, stepName)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return model.StepOutcome{}, false, nil
	}
	if err != nil {
		return model.StepOutcome{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var outcome model.StepOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return model.StepOutcome{}, false, fmt.Errorf("unmarshal outcome %q: %w", key, err)
	}
	return outcome, true, nil
}

// Put caches an outcome in Redis with the configured TTL.
func (c *RedisOutcomeCache) Put(ctx context.Context, runID, stepName string, outcome model.StepOutcome) error {
	key := FormatOutcomeKey(runID, stepName)

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Invalidate removes the key for (runID, stepName) from Redis.
func (c *RedisOutcomeCache) Invalidate(ctx context.Context, runID, stepName string) error {
	key := FormatOutcomeKey(runID, stepName)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the Redis backend.
func (c *RedisOutcomeCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
