package queue

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	raw := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := raw.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available on localhost:6379: %v", err)
	}
	require.NoError(t, raw.FlushDB(ctx).Err())

	client := redisx.NewClient(raw, logging.New("error", "json"))
	return NewRedisQueue(client, "test.run.requests", 2*time.Second), ctx
}

func TestRedisQueueEnqueueConsumeAck(t *testing.T) {
	q, ctx := newTestRedisQueue(t)
	require.NoError(t, q.EnsureGroup(ctx, "workers"))

	msg := model.RunMessage{RunID: "run-1", TenantID: "tenant-a", WorkflowID: "wf-1"}
	require.NoError(t, q.Enqueue(ctx, msg))

	d, ok, err := q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", d.Message.RunID)
	require.NotEmpty(t, d.ID)

	require.NoError(t, q.Ack(ctx, "workers", d.ID))
}

func TestRedisQueueConsumeTimesOutWhenEmpty(t *testing.T) {
	q, ctx := newTestRedisQueue(t)
	require.NoError(t, q.EnsureGroup(ctx, "workers"))

	_, ok, err := q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.False(t, ok)
}
