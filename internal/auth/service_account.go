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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/sales-engine/pkg/contracts"
)

// assertionTTL is the lifetime of a minted JWT assertion. Google caps
// service account assertions at one hour.
const assertionTTL = time.Hour

// ServiceAccountProvider mints JWT assertions from Google service
// account key files for the Ad Manager backend. The adapter exchanges
// the assertion for an access token at the token endpoint; in dry-run
// deployments the assertion itself is enough to exercise the flow.
//
// Key file path comes from the tenant config ("key_file") or the
// SALESENGINE_GOOGLE_AD_MANAGER_KEY_FILE environment variable.
//
// Returns (nil, nil) for backends other than google_ad_manager or for
// fields other than access_token, and an error when a key file is
// configured but unreadable or malformed.
type ServiceAccountProvider struct {
	mu     sync.Mutex
	minted map[string]*contracts.Credential // key file path → cached assertion
}

// serviceAccountKey is the subset of the Google key file we read.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// NewServiceAccountProvider creates a service account credential provider.
func NewServiceAccountProvider() *ServiceAccountProvider {
	return &ServiceAccountProvider{minted: make(map[string]*contracts.Credential)}
}

func (p *ServiceAccountProvider) Name() string  { return "service_account" }
func (p *ServiceAccountProvider) Enabled() bool { return true }

func (p *ServiceAccountProvider) Resolve(_ context.Context, req contracts.CredentialRequest) (*contracts.Credential, error) {
	if req.Backend != "google_ad_manager" || req.Field != "access_token" {
		return nil, nil
	}

	keyFile := ""
	if v, ok := req.Config["key_file"].(string); ok {
		keyFile = v
	}
	if keyFile == "" {
		keyFile = os.Getenv("SALESENGINE_GOOGLE_AD_MANAGER_KEY_FILE")
	}
	if keyFile == "" {
		return nil, nil // not configured, let another provider try
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.minted[keyFile]; ok && !cached.Expired() {
		return cached, nil
	}

	cred, err := mintAssertion(keyFile)
	if err != nil {
		return nil, fmt.Errorf("service account key %s: %w", keyFile, err)
	}
	p.minted[keyFile] = cred
	return cred, nil
}

// mintAssertion builds an RS256-signed JWT assertion from the key file.
func mintAssertion(keyFile string) (*contracts.Credential, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("invalid key file JSON: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("key file missing client_email or private_key")
	}

	privKey, err := parseRSAKey([]byte(key.PrivateKey))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiry := now.Add(assertionTTL)

	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]any{
		"iss":   key.ClientEmail,
		"scope": "https://www.googleapis.com/auth/dfp",
		"aud":   key.TokenURI,
		"iat":   now.Unix(),
		"exp":   expiry.Unix(),
	}

	headerB64, err := jsonSegment(header)
	if err != nil {
		return nil, err
	}
	claimsB64, err := jsonSegment(claims)
	if err != nil {
		return nil, err
	}

	signingInput := headerB64 + "." + claimsB64
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}

	return &contracts.Credential{
		Value:     signingInput + "." + base64.RawURLEncoding.EncodeToString(sig),
		ExpiresAt: expiry.Add(-time.Minute), // refresh before the backend sees an expired token
	}, nil
}

func jsonSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("private_key is not PEM")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private_key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
