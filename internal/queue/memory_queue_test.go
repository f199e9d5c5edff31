package queue

import (
	"context"
	"testing"

	"github.com/lyzr/workflowcore/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueEnqueueConsumeAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.EnsureGroup(ctx, "workers"))

	_, ok, err := q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.False(t, ok)

	msg := model.RunMessage{RunID: "run-1", TenantID: "tenant-a", WorkflowID: "wf-1"}
	require.NoError(t, q.Enqueue(ctx, msg))

	d, ok, err := q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", d.Message.RunID)
	require.Equal(t, "tenant-a:run-1", d.Message.PartitionKey())

	require.NoError(t, q.Ack(ctx, "workers", d.ID))

	_, ok, err = q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryQueuePreservesOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RunMessage{RunID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.RunMessage{RunID: "b"}))

	first, _, _ := q.Consume(ctx, "g", "c")
	second, _, _ := q.Consume(ctx, "g", "c")
	require.Equal(t, "a", first.Message.RunID)
	require.Equal(t, "b", second.Message.RunID)
}
