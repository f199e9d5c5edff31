// Package cas is a content-addressable blob store for node outputs and
// resolved configs that are too large to carry inline on every run message
// or persisted result row. Blobs are keyed by their own SHA-256 hash, so
// storing the same bytes twice is a no-op and a reference can be handed
// around freely without worrying about staleness.
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/workflowcore/internal/redisx"
)

// Store puts and gets content-addressed blobs. Implementations never cache:
// every Get queries the backing store for the current bytes.
type Store interface {
	// Put stores data and returns its content reference ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// StoreJSON marshals v and stores it, returning its content reference.
	StoreJSON(ctx context.Context, v any) (string, error)
	// Get retrieves the bytes behind ref.
	Get(ctx context.Context, ref string) ([]byte, error)
	// LoadJSON retrieves and unmarshals the value behind ref into v.
	LoadJSON(ctx context.Context, ref string, v any) error
}

// RedisStore stores blobs as plain Redis string keys. No expiry by default
// — callers that want result blobs to age out pass a TTL to NewRedisStore.
type RedisStore struct {
	redis *redisx.Client
	ttl   time.Duration
}

// NewRedisStore builds a RedisStore. ttl of zero means blobs never expire.
func NewRedisStore(client *redisx.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	key := casKey(ref)
	if err := s.redis.Set(ctx, key, string(data), s.ttl); err != nil {
		return "", fmt.Errorf("cas: put %s: %w", ref, err)
	}
	return ref, nil
}

func (s *RedisStore) StoreJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cas: marshal: %w", err)
	}
	return s.Put(ctx, data)
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	val, ok, err := s.redis.Get(ctx, casKey(ref))
	if err != nil {
		return nil, fmt.Errorf("cas: get %s: %w", ref, err)
	}
	if !ok {
		return nil, fmt.Errorf("cas: blob not found: %s", ref)
	}
	return []byte(val), nil
}

func (s *RedisStore) LoadJSON(ctx context.Context, ref string, v any) error {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cas: unmarshal %s: %w", ref, err)
	}
	return nil
}

func casKey(ref string) string {
	return "cas:" + ref
}
