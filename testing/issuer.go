// Package authtest provides a token-minting issuer for tests: it signs
// session tokens the gateway's validator accepts, without a real auth
// service.
//
// Example usage:
//
//	issuer := authtest.NewIssuer(t)
//	validator := jwtkit.NewValidator(issuer.KeySource())
//	token := issuer.TokenWithRoles("u1", []string{"admin"})
package authtest

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	jwtkit "github.com/open-rails/streamgate/jwt"
)

// Issuer signs tokens with a throwaway RSA key and exposes the matching
// KeySource for the validator under test.
type Issuer struct {
	signer *jwtkit.RSASigner
}

// NewIssuer creates an issuer with a fresh key pair.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()
	signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
	if err != nil {
		t.Fatalf("failed to create RSA signer: %v", err)
	}
	return &Issuer{signer: signer}
}

// KeySource returns the verification keys matching this issuer's tokens.
func (i *Issuer) KeySource() jwtkit.KeySource {
	return jwtkit.StaticKeySource{
		Active: i.signer,
		Pubs:   map[string]*rsa.PublicKey{i.signer.KID(): i.signer.PublicKey()},
	}
}

// Token creates a signed token for a regular user, valid for one hour.
func (i *Issuer) Token(subjectID string) string {
	return i.TokenWithClaims(subjectID, nil)
}

// TokenWithRoles creates a signed token carrying a roles claim.
func (i *Issuer) TokenWithRoles(subjectID string, roles []string) string {
	return i.TokenWithClaims(subjectID, map[string]any{"roles": roles})
}

// TokenWithExpiry creates a signed token with a custom expiry time.
func (i *Issuer) TokenWithExpiry(subjectID string, expiry time.Time) string {
	return i.TokenWithClaims(subjectID, map[string]any{"exp": expiry.Unix()})
}

// ExpiredToken creates a token that expired an hour ago.
func (i *Issuer) ExpiredToken(subjectID string) string {
	return i.TokenWithExpiry(subjectID, time.Now().Add(-time.Hour))
}

// TokenWithClaims creates a signed token, merging extraClaims over the
// standard sub/iat/exp set.
func (i *Issuer) TokenWithClaims(subjectID string, extraClaims map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extraClaims {
		claims[k] = v
	}
	token, err := i.signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}
