package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
)

func TestChainConfigWinsOverEnv(t *testing.T) {
	t.Setenv("SALESENGINE_KEVEL_API_KEY", "env-key")

	chain := NewProviderChain()
	chain.RegisterProvider(&ConfigProvider{})
	chain.RegisterProvider(NewEnvProvider())

	cred, err := chain.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "kevel",
		Field:   "api_key",
		Config:  map[string]any{"api_key": "config-key"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred == nil || cred.Value != "config-key" {
		t.Fatalf("Resolve() = %+v, want config-key", cred)
	}
	if cred.Provider != "config" {
		t.Errorf("Provider = %q, want config", cred.Provider)
	}
}

func TestChainFallsThroughToEnv(t *testing.T) {
	t.Setenv("SALESENGINE_KEVEL_API_KEY", "env-key")

	chain := NewProviderChain()
	chain.RegisterProvider(&ConfigProvider{})
	chain.RegisterProvider(NewEnvProvider())

	cred, err := chain.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "kevel",
		Field:   "api_key",
		Config:  map[string]any{},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred == nil || cred.Value != "env-key" {
		t.Fatalf("Resolve() = %+v, want env-key", cred)
	}
	if cred.Provider != "env" {
		t.Errorf("Provider = %q, want env", cred.Provider)
	}
}

func TestChainNoProviderMatched(t *testing.T) {
	chain := NewProviderChain()
	chain.RegisterProvider(&ConfigProvider{})
	chain.RegisterProvider(NewEnvProvider())

	cred, err := chain.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "triton",
		Field:   "auth_token",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred != nil {
		t.Fatalf("Resolve() = %+v, want nil for unresolved credential", cred)
	}
}

func TestEnvProviderKeyNaming(t *testing.T) {
	p := NewEnvProvider()
	got := p.envKey("google_ad_manager", "access_token")
	if got != "SALESENGINE_GOOGLE_AD_MANAGER_ACCESS_TOKEN" {
		t.Errorf("envKey() = %q", got)
	}
	got = p.envKey("kevel", "api-key")
	if got != "SALESENGINE_KEVEL_API_KEY" {
		t.Errorf("envKey() = %q", got)
	}
}

func TestServiceAccountIgnoresOtherBackends(t *testing.T) {
	p := NewServiceAccountProvider()
	cred, err := p.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "kevel",
		Field:   "api_key",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred != nil {
		t.Fatalf("Resolve() = %+v, want nil for non-GAM backend", cred)
	}
}

func TestServiceAccountMintsAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	keyFile := writeKeyFile(t, key)

	p := NewServiceAccountProvider()
	cred, err := p.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "google_ad_manager",
		Field:   "access_token",
		Config:  map[string]any{"key_file": keyFile},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred == nil || cred.Value == "" {
		t.Fatal("Resolve() returned no credential")
	}
	if cred.Expired() {
		t.Error("fresh assertion reports expired")
	}

	parts := strings.Split(cred.Value, ".")
	if len(parts) != 3 {
		t.Fatalf("assertion has %d segments, want 3", len(parts))
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims["iss"] != "buyer@example.iam.gserviceaccount.com" {
		t.Errorf("iss = %v", claims["iss"])
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	// Second resolve hits the cache and returns the same assertion.
	again, err := p.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "google_ad_manager",
		Field:   "access_token",
		Config:  map[string]any{"key_file": keyFile},
	})
	if err != nil {
		t.Fatalf("Resolve() second call error = %v", err)
	}
	if again.Value != cred.Value {
		t.Error("cached assertion differs from first mint")
	}
}

func TestServiceAccountBrokenKeyFileRejects(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(keyFile, []byte("not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p := NewServiceAccountProvider()
	_, err := p.Resolve(context.Background(), contracts.CredentialRequest{
		Backend: "google_ad_manager",
		Field:   "access_token",
		Config:  map[string]any{"key_file": keyFile},
	})
	if err == nil {
		t.Fatal("Resolve() with broken key file did not error")
	}
}

func writeKeyFile(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	payload, err := json.Marshal(map[string]string{
		"client_email": "buyer@example.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	keyFile := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(keyFile, payload, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return keyFile
}
