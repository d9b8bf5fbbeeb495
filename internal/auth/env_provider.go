package auth

import (
	"context"
	"os"
	"strings"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
)

// ConfigProvider resolves secrets inlined in the tenant's adapter
// config map. It sits first in the default chain so per-tenant config
// always wins over process-wide environment variables.
type ConfigProvider struct{}

func (p *ConfigProvider) Name() string  { return "config" }
func (p *ConfigProvider) Enabled() bool { return true }

func (p *ConfigProvider) Resolve(_ context.Context, req contracts.CredentialRequest) (*contracts.Credential, error) {
	if req.Config == nil {
		return nil, nil
	}
	if v, ok := req.Config[req.Field].(string); ok && v != "" {
		return &contracts.Credential{Value: v}, nil
	}
	return nil, nil
}

// EnvProvider resolves secrets from environment variables named
// SALESENGINE_<BACKEND>_<FIELD>, e.g. SALESENGINE_KEVEL_API_KEY.
// Useful for single-tenant deployments where secrets live in the
// process environment instead of the tenant record.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment credential provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: "SALESENGINE_"}
}

func (p *EnvProvider) Name() string  { return "env" }
func (p *EnvProvider) Enabled() bool { return true }

func (p *EnvProvider) Resolve(_ context.Context, req contracts.CredentialRequest) (*contracts.Credential, error) {
	if v := os.Getenv(p.envKey(req.Backend, req.Field)); v != "" {
		return &contracts.Credential{Value: v}, nil
	}
	return nil, nil
}

func (p *EnvProvider) envKey(backend, field string) string {
	sanitize := func(s string) string {
		s = strings.ToUpper(s)
		return strings.Map(func(r rune) rune {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				return r
			}
			return '_'
		}, s)
	}
	return p.prefix + sanitize(backend) + "_" + sanitize(field)
}
