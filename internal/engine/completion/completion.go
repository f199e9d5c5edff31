// Package completion tracks cross-process fan-out/fan-in for a run: how
// many outstanding units of work (today, only dispatched sub-workflow
// children) remain before the parent is considered complete. A single
// engine.Execute call already tracks its own in-process DAG completion via
// its ready/inflight/done sets; this package exists for the boundary where
// that tracking crosses a process, namely a sub-workflow child picked up by
// a different worker than the one running its parent.
//
// The counter is adjusted through an atomic Lua script keyed by an
// idempotency token (opKey), so a redelivered queue message or a retried
// dispatch call can apply the same delta twice without double-counting.
package completion

import (
	"context"
	"fmt"

	"github.com/lyzr/workflowcore/internal/redisx"
)

// applyDeltaScript adjusts counter:<runID> by delta, recording opKey in
// applied:<runID> so a repeated call with the same opKey is a no-op. It
// returns [new_value, changed, hit_zero].
const applyDeltaScript = `
local appliedSet = KEYS[1]
local counterKey = KEYS[2]
local opKey = ARGV[1]
local delta = tonumber(ARGV[2])

local added = redis.call('SADD', appliedSet, opKey)
if added == 0 then
  local current = tonumber(redis.call('GET', counterKey) or '0')
  return {current, 0, current == 0 and 1 or 0}
end

local newValue = redis.call('INCRBY', counterKey, delta)
return {newValue, 1, newValue == 0 and 1 or 0}
`

// Result is the outcome of applying a delta.
type Result struct {
	Value   int  // current counter value after the call
	Changed bool // false if opKey had already been applied (idempotent replay)
	HitZero bool // true if the counter is exactly zero after this call
}

// Tracker applies idempotent deltas to a per-run outstanding-work counter.
type Tracker struct {
	redis *redisx.Client
}

// NewTracker builds a Tracker backed by client.
func NewTracker(client *redisx.Client) *Tracker {
	return &Tracker{redis: client}
}

// Apply adds delta to runID's counter unless opKey was already applied.
func (t *Tracker) Apply(ctx context.Context, runID, opKey string, delta int) (Result, error) {
	appliedSet := fmt.Sprintf("completion:applied:%s", runID)
	counterKey := fmt.Sprintf("completion:counter:%s", runID)

	raw, err := t.redis.Raw.Eval(ctx, applyDeltaScript, []string{appliedSet, counterKey}, opKey, delta).Result()
	if err != nil {
		return Result{}, fmt.Errorf("completion: apply delta for run %s: %w", runID, err)
	}

	vals, ok := raw.([]any)
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("completion: unexpected script result shape for run %s", runID)
	}
	value, err := toInt(vals[0])
	if err != nil {
		return Result{}, err
	}
	changed, err := toInt(vals[1])
	if err != nil {
		return Result{}, err
	}
	hitZero, err := toInt(vals[2])
	if err != nil {
		return Result{}, err
	}

	return Result{Value: value, Changed: changed == 1, HitZero: hitZero == 1}, nil
}

// Expect increments runID's counter by n, recording that n children were
// dispatched under opKey (typically the parent node's ID plus an attempt
// marker, so a retried dispatch doesn't double-count).
func (t *Tracker) Expect(ctx context.Context, runID, opKey string, n int) (Result, error) {
	return t.Apply(ctx, runID, opKey, n)
}

// Resolve decrements runID's counter by one, recording that a single
// dispatched child (identified by childRunID, which is unique per child)
// finished. HitZero reports whether every expected child has now resolved.
func (t *Tracker) Resolve(ctx context.Context, runID, childRunID string) (Result, error) {
	opKey := fmt.Sprintf("resolve:%s", childRunID)
	return t.Apply(ctx, runID, opKey, -1)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("completion: expected integer script result, got %T", v)
	}
}
