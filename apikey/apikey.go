// Package apikey issues and verifies the API keys internal services use to
// call the gateway's internal endpoints (the entitlement check). Keys are
// random base58 secrets; only bcrypt hashes are ever configured.
package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix marks gateway service keys so leaked secrets are greppable.
	Prefix = "sk_"

	secretLen = 24
)

// Generate returns a new service API key and its bcrypt hash. The key is
// shown once to the operator; only the hash is stored.
func Generate() (key, hash string, err error) {
	raw := make([]byte, secretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	key = Prefix + base58.Encode(raw)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return key, string(h), nil
}

// Verify compares a presented key with a bcrypt hash.
func Verify(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Keyring holds the configured caller hashes, keyed by caller name.
// Read-only after boot.
type Keyring struct {
	hashes map[string]string
}

// NewKeyring parses "name:bcrypt-hash" pairs (comma-separated in config).
func NewKeyring(pairs []string) (*Keyring, error) {
	hashes := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("apikey: malformed entry %q, want name:hash", pair)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("apikey: entry %q is not a bcrypt hash", name)
		}
		hashes[name] = hash
	}
	return &Keyring{hashes: hashes}, nil
}

// Empty reports whether no callers are configured.
func (k *Keyring) Empty() bool { return k == nil || len(k.hashes) == 0 }

// Authenticate returns the caller name for a presented key, or false.
// The key prefix is checked in constant time before the bcrypt walk to
// reject obvious garbage cheaply.
func (k *Keyring) Authenticate(key string) (string, bool) {
	if k == nil || key == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(key[:min(len(key), len(Prefix))]), []byte(Prefix)) != 1 {
		return "", false
	}
	for name, hash := range k.hashes {
		if Verify(hash, key) {
			return name, true
		}
	}
	return "", false
}
