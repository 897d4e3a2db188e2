package jwtkit

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/streamgate/core"
)

// Validator verifies bearer credentials against the pre-shared public keys
// and extracts a typed Identity. Verification is purely local cryptographic
// work: no network calls, no shared mutable state, safe for concurrent use.
type Validator struct {
	keys KeySource
	// now is overridable in tests.
	now func() time.Time
}

func NewValidator(keys KeySource) *Validator {
	return &Validator{keys: keys, now: time.Now}
}

// Validate verifies the credential's structure, signature, and expiry and
// returns the caller's Identity. All failures are core.Unauthenticated; the
// caller cannot distinguish a forged token from an expired one.
func (v *Validator) Validate(credential string) (core.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return core.Identity{}, core.Unauthenticated("missing credential")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(credential, claims, v.keyFor)
	if err != nil || !token.Valid {
		return core.Identity{}, core.Unauthenticated("invalid or expired credential")
	}

	return identityFromClaims(claims)
}

// keyFor selects the verification key by the token's kid header. Tokens
// without a kid are accepted only when exactly one key is configured.
func (v *Validator) keyFor(token *jwt.Token) (any, error) {
	pubs := v.keys.PublicKeys()
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		if pub, ok := pubs[kid]; ok {
			return pub, nil
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	if len(pubs) == 1 {
		for _, pub := range pubs {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("token missing kid header")
}

func identityFromClaims(claims jwt.MapClaims) (core.Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return core.Identity{}, core.Unauthenticated("credential missing subject")
	}

	id := core.Identity{SubjectID: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}

	// roles is optional; absence means a regular user, never admin.
	if raw, ok := claims["roles"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return core.Identity{}, core.Unauthenticated("malformed roles claim")
		}
		for _, item := range list {
			role, ok := item.(string)
			if !ok {
				return core.Identity{}, core.Unauthenticated("malformed roles claim")
			}
			id.Roles = append(id.Roles, role)
		}
	}
	return id, nil
}

// singleKeySource wraps one public key for verification-only validators.
type singleKeySource struct {
	kid string
	pub *rsa.PublicKey
}

func (s singleKeySource) ActiveSigner() Signer { return nil }
func (s singleKeySource) PublicKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{s.kid: s.pub}
}

// NewVerifyOnlyValidator builds a validator from a single public key, for
// deployments where the gateway is given just the auth service's current
// verification key.
func NewVerifyOnlyValidator(kid string, pub *rsa.PublicKey) *Validator {
	return NewValidator(singleKeySource{kid: kid, pub: pub})
}
