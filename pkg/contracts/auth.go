// Package contracts — credential resolution interfaces for ad server
// backends.
//
// Adapters need secrets (API keys, OAuth assertions, basic auth pairs)
// that operators provision in different places: the tenant's adapter
// config, the process environment, or service account key files. The
// provider chain hides the source from the adapter.
package contracts

import (
	"context"
	"time"
)

// ── Credential ──────────────────────────────────────────────

// Credential is a resolved secret for an ad server backend.
type Credential struct {
	// Value is the secret material (API key, bearer token, password).
	Value string

	// Provider identifies which provider resolved this credential.
	Provider string

	// ExpiresAt is when the credential stops being valid. Zero means
	// it does not expire.
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialRequest names the secret an adapter is asking for.
type CredentialRequest struct {
	// Backend is the adapter name ("kevel", "google_ad_manager", ...).
	Backend string

	// Field is the config key the adapter reads ("api_key", "access_token").
	Field string

	// Config is the tenant's adapter config map. Providers may read
	// non-secret fields from it (key file paths, account ids).
	Config map[string]any
}

// ── CredentialProvider ──────────────────────────────────────

// CredentialProvider resolves one class of credential source.
//
// The chain pattern:
//   - Return (*Credential, nil) → resolved, stop chain
//   - Return (nil, nil) → this provider has nothing for the request, try next
//   - Return (nil, error) → the provider holds material it cannot produce, reject
type CredentialProvider interface {
	// Name returns the provider identifier (e.g. "config", "env").
	Name() string

	// Resolve inspects the request and returns a credential.
	Resolve(ctx context.Context, req CredentialRequest) (*Credential, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// CredentialChain tries providers in priority order until one resolves.
type CredentialChain interface {
	// Resolve walks the chain of providers in order. Returns the first
	// resolved credential, or (nil, nil) if no provider matched.
	Resolve(ctx context.Context, req CredentialRequest) (*Credential, error)

	// RegisterProvider adds a provider to the end of the chain.
	// Providers are tried in registration order.
	RegisterProvider(provider CredentialProvider)
}
