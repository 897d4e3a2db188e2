package jwtkit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAuthKeysPath is the default directory where the secrets
	// operator mounts the platform signing keys.
	DefaultAuthKeysPath = "/vault/auth"
)

// KeySource provides the verification keys for token validation and JWKS,
// plus the active signer where one exists (dev key source only).
type KeySource interface {
	ActiveSigner() Signer
	PublicKeys() map[string]*rsa.PublicKey
}

// StaticKeySource is a simple in-memory implementation.
type StaticKeySource struct {
	Active Signer
	Pubs   map[string]*rsa.PublicKey
}

func (s StaticKeySource) ActiveSigner() Signer                  { return s.Active }
func (s StaticKeySource) PublicKeys() map[string]*rsa.PublicKey { return s.Pubs }

// GeneratedKeySource generates and persists RSA keys (development only).
// Keys are stored in .runtime/streamgate/ and reused across restarts so dev
// tokens survive a gateway restart.
type GeneratedKeySource struct {
	signer *RSASigner
	pubs   map[string]*rsa.PublicKey
}

const (
	defaultKeysDir = ".runtime/streamgate"
	privateKeyFile = "private.pem"
	keyIDFile      = "kid"
)

// NewGeneratedKeySource creates a KeySource with auto-generated RSA keys,
// loading previously persisted dev keys when present.
func NewGeneratedKeySource() (*GeneratedKeySource, error) {
	if signer, pubs, ok := loadKeysFromDisk(); ok {
		return &GeneratedKeySource{signer: signer, pubs: pubs}, nil
	}

	kid := fmt.Sprintf("dev-%d", time.Now().Unix())
	signer, err := NewRSASigner(2048, kid)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	if err := persistKeysToDisk(signer, kid); err != nil {
		// Keys still work in-memory; they just won't survive a restart.
		logrus.WithError(err).Warn("failed to persist dev signing keys")
	}

	return &GeneratedKeySource{
		signer: signer,
		pubs:   map[string]*rsa.PublicKey{kid: signer.PublicKey()},
	}, nil
}

func (g *GeneratedKeySource) ActiveSigner() Signer                  { return g.signer }
func (g *GeneratedKeySource) PublicKeys() map[string]*rsa.PublicKey { return g.pubs }

func loadKeysFromDisk() (*RSASigner, map[string]*rsa.PublicKey, bool) {
	keyPath := filepath.Join(defaultKeysDir, privateKeyFile)
	kidPath := filepath.Join(defaultKeysDir, keyIDFile)

	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, false
	}

	kid := "dev"
	if kidBytes, err := os.ReadFile(kidPath); err == nil {
		if k := strings.TrimSpace(string(kidBytes)); k != "" {
			kid = k
		}
	}

	signer, err := NewRSASignerFromPEM(kid, pemBytes)
	if err != nil {
		return nil, nil, false
	}

	return signer, map[string]*rsa.PublicKey{kid: signer.PublicKey()}, true
}

func persistKeysToDisk(signer *RSASigner, kid string) error {
	if err := os.MkdirAll(defaultKeysDir, 0700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(signer.PrivateKey())
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privDER,
	})

	keyPath := filepath.Join(defaultKeysDir, privateKeyFile)
	if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	kidPath := filepath.Join(defaultKeysDir, keyIDFile)
	if err := os.WriteFile(kidPath, []byte(kid), 0600); err != nil {
		return fmt.Errorf("write key ID: %w", err)
	}

	return nil
}

// NewAutoKeySource auto-discovers token keys, in priority order:
//  1. Environment variables (ACTIVE_KEY_ID, ACTIVE_PRIVATE_KEY_PEM,
//     PUBLIC_KEYS_JWKS) - highest priority
//  2. Filesystem <keys dir>/keys.json, a standard JWKS document mounted by
//     the secrets operator
//  3. Auto-generated keys in .runtime/streamgate/ (development fallback)
//
// In production environments auto-generation is disabled and an error is
// returned so the gateway cannot start without provisioned keys.
func NewAutoKeySource() (KeySource, error) {
	if keySource, err := tryLoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load keys from environment variables: %w", err)
	} else if keySource != nil {
		return keySource, nil
	}

	if keySource, err := tryLoadFromFilesystem(DefaultAuthKeysPath); err != nil {
		return nil, fmt.Errorf("failed to load keys from %s: %w", DefaultAuthKeysPath, err)
	} else if keySource != nil {
		return keySource, nil
	}

	if IsProdEnv() {
		return nil, fmt.Errorf("no token keys found in env or %s and auto-generation is disabled in production; set ACTIVE_KEY_ID/ACTIVE_PRIVATE_KEY_PEM or mount keys.json", DefaultAuthKeysPath)
	}

	keySource, err := NewGeneratedKeySource()
	if err != nil {
		return nil, fmt.Errorf("failed to generate development keys: %w", err)
	}
	return keySource, nil
}

// IsProdEnv returns true if the current process appears to be running in a
// production environment. It mirrors the ENV detection used across the
// platform's services: ENV, APP_ENV, or ENVIRONMENT (case-insensitive).
func IsProdEnv() bool {
	env := strings.TrimSpace(os.Getenv("ENV"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("APP_ENV"))
	}
	if env == "" {
		env = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	}
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}

// tryLoadFromEnv attempts to load token keys from environment variables.
// Returns (nil, nil) if env vars are not set (not an error).
//
// Expected environment variables:
//
//	ACTIVE_KEY_ID - key ID for the active signing key
//	ACTIVE_PRIVATE_KEY_PEM - PEM-encoded RSA private key
//	PUBLIC_KEYS_JWKS - JWKS document with additional verification keys
//	  (optional), e.g. {"keys":[{"kty":"RSA","kid":"key-123",...}]}
func tryLoadFromEnv() (KeySource, error) {
	activeKeyID := strings.TrimSpace(os.Getenv("ACTIVE_KEY_ID"))
	activePrivateKeyPEM := strings.TrimSpace(os.Getenv("ACTIVE_PRIVATE_KEY_PEM"))

	if activeKeyID == "" && activePrivateKeyPEM == "" {
		return nil, nil
	}

	if activeKeyID == "" {
		return nil, fmt.Errorf("ACTIVE_PRIVATE_KEY_PEM is set but ACTIVE_KEY_ID is missing")
	}
	if activePrivateKeyPEM == "" {
		return nil, fmt.Errorf("ACTIVE_KEY_ID is set but ACTIVE_PRIVATE_KEY_PEM is missing")
	}

	signer, err := NewRSASignerFromPEM(activeKeyID, []byte(activePrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ACTIVE_PRIVATE_KEY_PEM: %w", err)
	}

	publicKeys := map[string]*rsa.PublicKey{
		activeKeyID: signer.PublicKey(),
	}

	if jwksJSON := strings.TrimSpace(os.Getenv("PUBLIC_KEYS_JWKS")); jwksJSON != "" {
		extra, err := parseJWKSKeys([]byte(jwksJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to parse PUBLIC_KEYS_JWKS: %w", err)
		}
		for kid, pub := range extra {
			publicKeys[kid] = pub
		}
	}

	return StaticKeySource{
		Active: signer,
		Pubs:   publicKeys,
	}, nil
}

// tryLoadFromFilesystem attempts to load keys from <keysPath>/keys.json.
// Returns (nil, nil) if the file doesn't exist (not an error). keys.json is
// a standard JWKS document; the gateway in this mode is verification-only.
func tryLoadFromFilesystem(keysPath string) (KeySource, error) {
	if keysPath == "" {
		keysPath = DefaultAuthKeysPath
	}

	if _, err := os.Stat(keysPath); os.IsNotExist(err) {
		return nil, nil
	}

	dataPath := filepath.Join(keysPath, "keys.json")
	data, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keys.json: %w", err)
	}

	publicKeys, err := parseJWKSKeys(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("keys.json contains no usable RSA keys")
	}

	return StaticKeySource{Pubs: publicKeys}, nil
}

// parseJWKSKeys reads RSA public keys out of a JWKS document, skipping
// non-RSA entries with a warning.
func parseJWKSKeys(data []byte) (map[string]*rsa.PublicKey, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*rsa.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			logrus.Warn("skipping JWKS key without kid")
			continue
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			logrus.WithField("kid", kid).WithError(err).Warn("skipping non-RSA JWKS key")
			continue
		}
		out[kid] = &pub
	}
	return out, nil
}
