package credential

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/workflowcore/internal/redisx"
)

// RedisResolver is a reference Resolver implementation storing credential
// references (never plaintext secrets encrypted at rest — that's an
// explicit non-goal, spec §1) in a Redis hash keyed by tenant, grounded on
// the teacher orchestrator's HSet/HGet wrapper methods.
type RedisResolver struct {
	redis *redisx.Client
}

func NewRedisResolver(redis *redisx.Client) *RedisResolver {
	return &RedisResolver{redis: redis}
}

type storedCredential struct {
	Kind   string `json:"kind"`
	Secret any    `json:"secret"`
}

func key(tenantID string) string { return "credentials:" + tenantID }

// Put seeds a credential. Exists for tests and local bootstrapping; the
// core has no credential-management surface of its own (out of scope).
func (r *RedisResolver) Put(ctx context.Context, credentialID, tenantID, kind string, secret any) error {
	data, err := json.Marshal(storedCredential{Kind: kind, Secret: secret})
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}
	return r.redis.HSet(ctx, key(tenantID), credentialID, string(data))
}

func (r *RedisResolver) load(ctx context.Context, credentialID, tenantID string) (storedCredential, error) {
	raw, ok, err := r.redis.HGet(ctx, key(tenantID), credentialID)
	if err != nil {
		return storedCredential{}, err
	}
	if !ok {
		return storedCredential{}, fmt.Errorf("credential: %q not found for tenant %q", credentialID, tenantID)
	}
	var sc storedCredential
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return storedCredential{}, fmt.Errorf("credential: unmarshal %q: %w", credentialID, err)
	}
	return sc, nil
}

func (r *RedisResolver) GetDecryptedSecret(ctx context.Context, credentialID, tenantID string) (any, error) {
	sc, err := r.load(ctx, credentialID, tenantID)
	if err != nil {
		return nil, err
	}
	return sc.Secret, nil
}

func (r *RedisResolver) Validate(ctx context.Context, credentialID, tenantID string) error {
	_, err := r.load(ctx, credentialID, tenantID)
	return err
}

func (r *RedisResolver) GetMetadata(ctx context.Context, credentialID, tenantID string) (Metadata, error) {
	sc, err := r.load(ctx, credentialID, tenantID)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{ID: credentialID, TenantID: tenantID, Kind: sc.Kind}, nil
}

// RefreshIfNeeded is a no-op: this reference resolver only stores static
// secrets, never OAuth-style rotating tokens.
func (r *RedisResolver) RefreshIfNeeded(ctx context.Context, credentialID, tenantID string) error {
	return nil
}
