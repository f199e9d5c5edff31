package cas

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests for packages that depend
// on cas.Store without needing a real Redis instance.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	ref := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *MemoryStore) StoreJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cas: marshal: %w", err)
	}
	return m.Put(ctx, data)
}

func (m *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("cas: blob not found: %s", ref)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) LoadJSON(ctx context.Context, ref string, v any) error {
	data, err := m.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cas: unmarshal %s: %w", ref, err)
	}
	return nil
}
