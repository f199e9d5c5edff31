// Package credential implements the Credential Resolver contract (spec
// §4.6): lookup-only access to secret material. Encryption at rest and a
// real secret-vault integration are explicit non-goals (spec §1) — this
// package only brokers references and enforces tenant scoping.
package credential

import "context"

// Metadata describes a credential without exposing its secret material.
type Metadata struct {
	ID       string
	TenantID string
	Kind     string // e.g. "api_key", "basic_auth", "oauth2_token"
}

// Resolver is the contract the engine and planner use for credential
// access. The core never persists a decrypted value; it is materialized in
// memory only for the duration of an adapter's Execute call and then
// discarded (spec §4.6).
type Resolver interface {
	// GetDecryptedSecret returns the secret material for credentialId,
	// scoped to tenantId. The concrete shape of the returned value is
	// credential-kind specific (a string, a struct, a map) and is opaque to
	// the engine — only adapters interpret it.
	GetDecryptedSecret(ctx context.Context, credentialID, tenantID string) (any, error)

	// Validate reports whether credentialId exists and is accessible from
	// tenantId, without materializing the secret.
	Validate(ctx context.Context, credentialID, tenantID string) error

	// GetMetadata returns non-secret descriptive information.
	GetMetadata(ctx context.Context, credentialID, tenantID string) (Metadata, error)

	// RefreshIfNeeded gives OAuth-style credentials a chance to rotate a
	// short-lived token before use; a no-op for static credentials.
	RefreshIfNeeded(ctx context.Context, credentialID, tenantID string) error
}
