package core

import "time"

// RoleAdmin is the role tag gating admin-only routes.
const RoleAdmin = "admin"

// Identity is the verified caller derived from a validated bearer token.
// It is constructed once per request by the token validator and discarded
// after forwarding; the gateway never persists it.
type Identity struct {
	SubjectID string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the identity carries the given role tag.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may access admin-only routes.
// An empty role set is always a regular user.
func (id Identity) IsAdmin() bool { return id.HasRole(RoleAdmin) }
