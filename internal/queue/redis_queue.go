package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/redisx"
)

// RedisQueue implements Queue on a single Redis Stream, grounded on the
// reference orchestrator's wf.run.requests consumer-group pattern.
type RedisQueue struct {
	redis  *redisx.Client
	stream string
	block  time.Duration
}

// NewRedisQueue builds a RedisQueue publishing to and consuming from
// stream. block bounds how long Consume waits for a new message before
// returning ok=false.
func NewRedisQueue(client *redisx.Client, stream string, block time.Duration) *RedisQueue {
	return &RedisQueue{redis: client, stream: stream, block: block}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg model.RunMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal run message: %w", err)
	}
	_, err = q.redis.XAddJSON(ctx, q.stream, payload)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", msg.PartitionKey(), err)
	}
	return nil
}

func (q *RedisQueue) EnsureGroup(ctx context.Context, consumerGroup string) error {
	return q.redis.EnsureGroup(ctx, q.stream, consumerGroup)
}

func (q *RedisQueue) Consume(ctx context.Context, consumerGroup, consumerName string) (Delivery, bool, error) {
	streams, err := q.redis.ReadGroup(ctx, q.stream, consumerGroup, consumerName, 1, q.block)
	if err != nil {
		return Delivery{}, false, fmt.Errorf("queue: consume from %s: %w", q.stream, err)
	}
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			payload, ok := raw.Values["payload"].(string)
			if !ok {
				continue
			}
			var msg model.RunMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				return Delivery{}, false, fmt.Errorf("queue: unmarshal message %s: %w", raw.ID, err)
			}
			return Delivery{ID: raw.ID, Message: msg}, true, nil
		}
	}
	return Delivery{}, false, nil
}

func (q *RedisQueue) Ack(ctx context.Context, consumerGroup, deliveryID string) error {
	return q.redis.Ack(ctx, q.stream, consumerGroup, deliveryID)
}

func (q *RedisQueue) Close() error { return nil }
