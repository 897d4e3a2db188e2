// Package routing maps inbound request paths to internal services with a
// data-driven rule table: adding a service is a configuration change, not a
// code change.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/open-rails/streamgate/core"
)

// Requirement is the endpoint-level access class of a rule.
type Requirement string

const (
	Public        Requirement = "public"
	Authenticated Requirement = "authenticated"
	AdminOnly     Requirement = "admin-only"
)

func (r Requirement) valid() bool {
	switch r {
	case Public, Authenticated, AdminOnly:
		return true
	}
	return false
}

// SubRoute maps an admin sub-resource key to its owning service. Multiple
// backend services share the single externally visible /admin namespace,
// so the admin rule dispatches a second time on the first path segment
// after the prefix.
type SubRoute struct {
	Service string `json:"service"`
	Rewrite string `json:"rewrite"`
}

// Rule is one immutable routing entry, loaded at boot.
type Rule struct {
	Prefix  string              `json:"prefix"`
	Service string              `json:"service,omitempty"`
	Rewrite string              `json:"rewrite,omitempty"`
	Auth    Requirement         `json:"auth"`
	Sub     map[string]SubRoute `json:"sub,omitempty"`
}

// Match is a resolved dispatch target.
type Match struct {
	Rule         *Rule
	Service      string
	InternalPath string
}

// Table is the read-only routing table. Construction validates the rule
// set; after that the table is shared across requests without locking.
type Table struct {
	// rules ordered by prefix length descending, so the first prefix hit
	// is the longest match.
	rules []Rule
}

// NewTable validates and indexes the rule set. Duplicate prefixes are a
// configuration error: ties would make longest-prefix matching ambiguous.
func NewTable(rules []Rule) (*Table, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Prefix = strings.TrimSuffix(r.Prefix, "/")
		if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("routing: rule prefix %q must start with /", r.Prefix)
		}
		if _, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("routing: duplicate prefix %q", r.Prefix)
		}
		seen[r.Prefix] = struct{}{}
		if !r.Auth.valid() {
			return nil, fmt.Errorf("routing: rule %q has unknown auth requirement %q", r.Prefix, r.Auth)
		}
		if len(r.Sub) == 0 && r.Service == "" {
			return nil, fmt.Errorf("routing: rule %q has neither service nor sub-routes", r.Prefix)
		}
		for key, sub := range r.Sub {
			if sub.Service == "" {
				return nil, fmt.Errorf("routing: rule %q sub-route %q has no service", r.Prefix, key)
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Prefix) > len(out[j].Prefix)
	})
	return &Table{rules: out}, nil
}

// Route matches path against the longest rule prefix and resolves the
// internal dispatch target. Fails with core.NotFound when no rule matches
// or an admin sub-resource key is unrecognized.
func (t *Table) Route(path string) (Match, error) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for i := range t.rules {
		rule := &t.rules[i]
		rest, ok := matchPrefix(path, rule.Prefix)
		if !ok {
			continue
		}
		if len(rule.Sub) > 0 {
			return routeSub(rule, rest)
		}
		return Match{
			Rule:         rule,
			Service:      rule.Service,
			InternalPath: rule.Rewrite + rest,
		}, nil
	}
	return Match{}, core.NotFound("no route for path")
}

// matchPrefix matches on segment boundaries: /play matches /play and
// /play/x but never /playground.
func matchPrefix(path, prefix string) (rest string, ok bool) {
	if path == prefix {
		return "", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}

func routeSub(rule *Rule, rest string) (Match, error) {
	key, tail := splitSegment(strings.TrimPrefix(rest, "/"))
	sub, ok := rule.Sub[key]
	if !ok {
		return Match{}, core.NotFound("no route for path")
	}
	return Match{
		Rule:         rule,
		Service:      sub.Service,
		InternalPath: sub.Rewrite + tail,
	}, nil
}

func splitSegment(s string) (head, tail string) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// Authorize applies the rule's access requirement to the caller.
// identity is nil for anonymous requests. This check runs strictly before
// forwarding: no admin-only request reaches a downstream service without a
// verified admin role.
func (r *Rule) Authorize(identity *core.Identity) error {
	switch r.Auth {
	case Public:
		return nil
	case Authenticated:
		if identity == nil {
			return core.Unauthenticated("")
		}
		return nil
	case AdminOnly:
		if identity == nil {
			return core.Unauthenticated("")
		}
		if !identity.IsAdmin() {
			return core.Forbidden("admin role required")
		}
		return nil
	default:
		return core.Internal(fmt.Errorf("rule %q has unknown auth requirement %q", r.Prefix, r.Auth))
	}
}
