// Package auth provides the credential provider chain for ad server
// adapters.
//
// Shipped providers:
//   - ConfigProvider — secrets inlined in the tenant's adapter config
//   - EnvProvider — SALESENGINE_<BACKEND>_<FIELD> environment variables
//   - ServiceAccountProvider — Google service account key files, minted
//     into short-lived JWT assertions for the Ad Manager API
//
// Deployment wrappers can register additional providers (vaults, cloud
// secret managers) on the same chain.
package auth

import (
	"context"
	"sync"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ProviderChain implements contracts.CredentialChain.
// It walks registered providers in order until one returns a Credential.
//
// Thread-safe: providers can be registered at any time.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.CredentialProvider
}

// NewProviderChain creates an empty credential provider chain.
func NewProviderChain() *ProviderChain {
	return &ProviderChain{
		providers: make([]contracts.CredentialProvider, 0),
	}
}

// RegisterProvider adds a provider to the end of the chain.
// Providers are tried in registration order.
func (c *ProviderChain) RegisterProvider(provider contracts.CredentialProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("Credential provider registered")
}

// Resolve walks the chain of providers in order.
//
// Contract:
//   - (*Credential, nil) → resolved, stop walking
//   - (nil, nil) → this provider has nothing for the request, try next
//   - (nil, error) → provider holds material it cannot produce, reject immediately
func (c *ProviderChain) Resolve(ctx context.Context, req contracts.CredentialRequest) (*contracts.Credential, error) {
	c.mu.RLock()
	providers := make([]contracts.CredentialProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		cred, err := p.Resolve(ctx, req)
		if err != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("backend", req.Backend).
				Str("field", req.Field).
				Err(err).
				Msg("Credential provider rejected request")
			return nil, err
		}
		if cred != nil {
			cred.Provider = p.Name()
			return cred, nil
		}
		// (nil, nil) — nothing for this request, try next
	}

	// No provider matched
	return nil, nil
}

// ListProviders returns the names of all registered providers (for diagnostics).
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

var (
	defaultChain *ProviderChain
	defaultOnce  sync.Once
)

// Default returns the process-wide chain used by adapter constructors:
// config, then environment, then service account key files.
func Default() *ProviderChain {
	defaultOnce.Do(func() {
		defaultChain = NewProviderChain()
		defaultChain.RegisterProvider(&ConfigProvider{})
		defaultChain.RegisterProvider(NewEnvProvider())
		defaultChain.RegisterProvider(NewServiceAccountProvider())
	})
	return defaultChain
}

// ResolveString resolves a credential through the default chain and
// returns its value, or "" when no source holds it. Resolution errors
// surface so a present-but-broken key file fails the adapter build
// instead of silently degrading to anonymous calls.
func ResolveString(ctx context.Context, backend, field string, cfg map[string]any) (string, error) {
	cred, err := Default().Resolve(ctx, contracts.CredentialRequest{
		Backend: backend,
		Field:   field,
		Config:  cfg,
	})
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	return cred.Value, nil
}
