// Package queue abstracts the run-request transport between the
// dispatcher and worker processes: a consumer-group-based delivery of
// model.RunMessage with explicit acknowledgement.
package queue

import (
	"context"

	"github.com/lyzr/workflowcore/internal/model"
)

// Delivery is one message pulled off the queue, carrying enough to ack it.
type Delivery struct {
	ID      string
	Message model.RunMessage
}

// Queue is the run-request transport contract. Implementations must be
// safe for concurrent use by multiple consumers in the same group.
type Queue interface {
	// Enqueue publishes msg. The implementations in this package keep a
	// single ordered sequence; msg.PartitionKey() is not used for routing.
	Enqueue(ctx context.Context, msg model.RunMessage) error

	// Consume blocks (up to the implementation's own poll interval) for the
	// next message never yet delivered to this consumer group; a delivered
	// message that was not acked is not offered again. It returns ok=false
	// with a nil error on a timed-out empty poll.
	Consume(ctx context.Context, consumerGroup, consumerName string) (d Delivery, ok bool, err error)

	// Ack acknowledges successful processing of a delivery.
	Ack(ctx context.Context, consumerGroup string, deliveryID string) error

	// EnsureGroup creates consumerGroup if it doesn't already exist.
	EnsureGroup(ctx context.Context, consumerGroup string) error

	Close() error
}
