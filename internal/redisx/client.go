// Package redisx wraps github.com/redis/go-redis/v9 with the common
// operations the dispatcher, worker, CAS, credential resolver, completion
// counter and backpressure gate all need, adding structured logging around
// each call the way the teacher orchestrator's redis wrapper does.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the minimal structured-logging interface this package depends
// on, satisfied by *internal/logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client wraps *redis.Client with instrumentation.
type Client struct {
	Raw    *redis.Client
	logger Logger
}

// NewClient wraps an existing *redis.Client.
func NewClient(raw *redis.Client, logger Logger) *Client {
	return &Client{Raw: raw, logger: logger}
}

func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := c.Raw.Set(ctx, key, value, expiry).Err(); err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("redisx: SET %s: %w", key, err)
	}
	return nil
}

// SetNX sets key only if absent; returns whether it was set.
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	ok, err := c.Raw.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.logger.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("redisx: SETNX %s: %w", key, err)
	}
	return ok, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.Raw.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("redisx: GET %s: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.Raw.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("redisx: DEL %v: %w", keys, err)
	}
	return nil
}

func (c *Client) HSet(ctx context.Context, key string, field string, value string) error {
	if err := c.Raw.HSet(ctx, key, field, value).Err(); err != nil {
		c.logger.Error("redis HSET failed", "key", key, "field", field, "error", err)
		return fmt.Errorf("redisx: HSET %s/%s: %w", key, field, err)
	}
	return nil
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.Raw.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis HGET failed", "key", key, "field", field, "error", err)
		return "", false, fmt.Errorf("redisx: HGET %s/%s: %w", key, field, err)
	}
	return val, true, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.Raw.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis HGETALL failed", "key", key, "error", err)
		return nil, fmt.Errorf("redisx: HGETALL %s: %w", key, err)
	}
	return m, nil
}

// XAddJSON appends a message to a stream, storing a single "payload" field.
func (c *Client) XAddJSON(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := c.Raw.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		c.logger.Error("redis XADD failed", "stream", stream, "error", err)
		return "", fmt.Errorf("redisx: XADD %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates a consumer group at the start of the stream if it
// doesn't already exist (idempotent — MKSTREAM also creates the stream).
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.Raw.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.logger.Error("redis XGROUP CREATE failed", "stream", stream, "group", group, "error", err)
		return fmt.Errorf("redisx: XGROUP CREATE %s/%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup reads up to count new messages (ID ">") for consumer in group:
// entries already delivered to the group and not yet acked are not re-read.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	res, err := c.Raw.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("redis XREADGROUP failed", "stream", stream, "group", group, "error", err)
		return nil, fmt.Errorf("redisx: XREADGROUP %s/%s: %w", stream, group, err)
	}
	return res, nil
}

func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.Raw.XAck(ctx, stream, group, id).Err(); err != nil {
		c.logger.Error("redis XACK failed", "stream", stream, "group", group, "id", id, "error", err)
		return fmt.Errorf("redisx: XACK %s/%s/%s: %w", stream, group, id, err)
	}
	return nil
}

// NewScript loads a Lua script for atomic server-side evaluation.
func (c *Client) NewScript(src string) *redis.Script {
	return redis.NewScript(src)
}
