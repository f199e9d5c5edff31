// Package backpressure gates how many runs a worker process pulls off the
// queue concurrently, so a burst of queued work can't overwhelm adapter
// targets or the database. Unlike a request-rate limiter, maxConcurrentRuns
// is a live gauge, not a windowed counter: a slot is acquired when a worker
// claims a run and released when that run reaches a terminal state, however
// long that takes.
package backpressure

import (
	"context"
	"fmt"

	"github.com/lyzr/workflowcore/internal/redisx"
)

// acquireScript atomically checks the current gauge against limit and, if
// there's room, increments it. Returns [acquired, current].
const acquireScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current >= limit then
  return {0, current}
end

local newValue = redis.call('INCR', key)
return {1, newValue}
`

// Gate enforces a global concurrency limit across all worker processes
// sharing the same Redis instance.
type Gate struct {
	redis *redisx.Client
	key   string
	limit int64
}

// NewGate builds a Gate keyed by name (so distinct worker pools — e.g. one
// per tenant tier — can each carry their own limit) enforcing limit
// concurrently in-flight runs.
func NewGate(client *redisx.Client, name string, limit int64) *Gate {
	return &Gate{redis: client, key: fmt.Sprintf("backpressure:%s", name), limit: limit}
}

// TryAcquire attempts to claim one concurrency slot. ok is false if the
// gate is already at its limit; the caller should back off and retry the
// next poll rather than pulling from the queue.
func (g *Gate) TryAcquire(ctx context.Context) (ok bool, current int64, err error) {
	raw, err := g.redis.Raw.Eval(ctx, acquireScript, []string{g.key}, g.limit).Result()
	if err != nil {
		return false, 0, fmt.Errorf("backpressure: acquire %s: %w", g.key, err)
	}
	vals, good := raw.([]any)
	if !good || len(vals) != 2 {
		return false, 0, fmt.Errorf("backpressure: unexpected script result shape for %s", g.key)
	}
	acquired, err := toInt64(vals[0])
	if err != nil {
		return false, 0, err
	}
	cur, err := toInt64(vals[1])
	if err != nil {
		return false, 0, err
	}
	return acquired == 1, cur, nil
}

// Release frees one concurrency slot, typically called once a claimed run
// reaches a terminal status. It never decrements below zero, so a release
// that races a crash-recovery reset can't corrupt the gauge.
func (g *Gate) Release(ctx context.Context) error {
	val, err := g.redis.Raw.Decr(ctx, g.key).Result()
	if err != nil {
		return fmt.Errorf("backpressure: release %s: %w", g.key, err)
	}
	if val < 0 {
		return g.redis.Set(ctx, g.key, "0", 0)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("backpressure: expected integer script result, got %T", v)
	}
}
