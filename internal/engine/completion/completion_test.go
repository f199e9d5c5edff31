package completion

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestTracker connects to a local Redis instance on DB 15, the same
// convention the reference orchestrator's integration tests use. Requires
// Redis running on localhost:6379.
func newTestTracker(t *testing.T) (*Tracker, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	raw := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := raw.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available on localhost:6379: %v", err)
	}
	require.NoError(t, raw.FlushDB(ctx).Err())

	client := redisx.NewClient(raw, logging.New("error", "json"))
	return NewTracker(client), ctx
}

func TestExpectThenResolveHitsZero(t *testing.T) {
	tr, ctx := newTestTracker(t)

	res, err := tr.Expect(ctx, "run-1", "emit:branch-a", 2)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, 2, res.Value)
	require.False(t, res.HitZero)

	res, err = tr.Resolve(ctx, "run-1", "child-a")
	require.NoError(t, err)
	require.Equal(t, 1, res.Value)
	require.False(t, res.HitZero)

	res, err = tr.Resolve(ctx, "run-1", "child-b")
	require.NoError(t, err)
	require.Equal(t, 0, res.Value)
	require.True(t, res.HitZero)
}

func TestResolveIsIdempotentPerChild(t *testing.T) {
	tr, ctx := newTestTracker(t)

	_, err := tr.Expect(ctx, "run-2", "emit:branch-a", 1)
	require.NoError(t, err)

	first, err := tr.Resolve(ctx, "run-2", "child-a")
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.True(t, first.HitZero)

	// Redelivery of the same child's completion signal must not
	// double-decrement the counter below zero.
	second, err := tr.Resolve(ctx, "run-2", "child-a")
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Equal(t, 0, second.Value)
	require.True(t, second.HitZero)
}

func TestExpectIsIdempotentPerOpKey(t *testing.T) {
	tr, ctx := newTestTracker(t)

	first, err := tr.Expect(ctx, "run-3", "emit:attempt-1", 3)
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, 3, first.Value)

	// A retried dispatch reusing the same opKey (e.g. after a worker crash
	// before acking) must not inflate the counter a second time.
	second, err := tr.Expect(ctx, "run-3", "emit:attempt-1", 3)
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Equal(t, 3, second.Value)
}
