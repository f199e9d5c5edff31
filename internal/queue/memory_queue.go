package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/workflowcore/internal/model"
)

// MemoryQueue is an in-process Queue for tests, grounded on the reference
// orchestrator's MemoryQueue but adapted to the claim/ack delivery model
// Consume/Ack expose rather than a fire-and-forget Subscribe callback.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Delivery
	nextID   int
	groups   map[string]bool
}

// NewMemoryQueue builds an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{groups: make(map[string]bool)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg model.RunMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.messages = append(q.messages, Delivery{ID: fmt.Sprint(q.nextID), Message: msg})
	return nil
}

func (q *MemoryQueue) EnsureGroup(_ context.Context, consumerGroup string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.groups[consumerGroup] = true
	return nil
}

// Consume pops the oldest undelivered message, removing it from the queue at
// delivery: it is never re-offered, whether or not it is acked, and Ack is a
// no-op.
func (q *MemoryQueue) Consume(_ context.Context, _, _ string) (Delivery, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return Delivery{}, false, nil
	}
	d := q.messages[0]
	q.messages = q.messages[1:]
	return d, true, nil
}

func (q *MemoryQueue) Ack(_ context.Context, _, _ string) error { return nil }

func (q *MemoryQueue) Close() error { return nil }
