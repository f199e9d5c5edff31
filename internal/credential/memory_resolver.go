package credential

import (
	"context"
	"fmt"
	"sync"
)

// MemoryResolver is an in-memory Resolver used by engine/dispatcher/worker
// tests so they don't need a live Redis instance.
type MemoryResolver struct {
	mu    sync.RWMutex
	store map[string]storedCredential
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{store: make(map[string]storedCredential)}
}

func (m *MemoryResolver) Put(credentialID, tenantID, kind string, secret any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[tenantID+"/"+credentialID] = storedCredential{Kind: kind, Secret: secret}
}

func (m *MemoryResolver) GetDecryptedSecret(ctx context.Context, credentialID, tenantID string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.store[tenantID+"/"+credentialID]
	if !ok {
		return nil, fmt.Errorf("credential: %q not found for tenant %q", credentialID, tenantID)
	}
	return sc.Secret, nil
}

func (m *MemoryResolver) Validate(ctx context.Context, credentialID, tenantID string) error {
	_, err := m.GetDecryptedSecret(ctx, credentialID, tenantID)
	return err
}

func (m *MemoryResolver) GetMetadata(ctx context.Context, credentialID, tenantID string) (Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.store[tenantID+"/"+credentialID]
	if !ok {
		return Metadata{}, fmt.Errorf("credential: %q not found for tenant %q", credentialID, tenantID)
	}
	return Metadata{ID: credentialID, TenantID: tenantID, Kind: sc.Kind}, nil
}

func (m *MemoryResolver) RefreshIfNeeded(ctx context.Context, credentialID, tenantID string) error {
	return nil
}
