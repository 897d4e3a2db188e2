// Package entitlements decides, per content item, whether a subject may
// play it, by combining subscription (SVOD), purchase, and rental (TVOD)
// grants with a fixed precedence.
package entitlements

import "time"

// ContentKind distinguishes on-demand items from live channels.
type ContentKind string

const (
	KindOndemand ContentKind = "ondemand"
	KindLive     ContentKind = "live"
)

// ContentRef identifies the content or channel an access check is about.
type ContentRef struct {
	ID   string      `json:"id"`
	Kind ContentKind `json:"kind"`
}

// Content is the catalog snapshot the resolver needs: existence plus the
// content class subscriptions are matched against (e.g. "basic", "premium",
// "linear").
type Content struct {
	ID    string
	Kind  ContentKind
	Class string
}

// Reason enumerates why access was granted (or not). Precedence makes the
// surfaced reason deterministic when multiple grants are simultaneously
// valid.
type Reason string

const (
	ReasonSubscription Reason = "subscription"
	ReasonPurchase     Reason = "purchase"
	ReasonActiveRental Reason = "active_rental"
	ReasonNone         Reason = "none"
)

// Verdict is the resolver's decision. ExpiresAt is set only for
// rental-based grants and informs client-side UX; it is never cached beyond
// the single resolution call.
type Verdict struct {
	Allowed   bool       `json:"allowed"`
	Reason    Reason     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SubscriptionGrant covers one or more content classes while the
// subscription is active. ActiveUntil nil means indefinite.
type SubscriptionGrant struct {
	PlanID      string
	Classes     []string
	ActiveUntil *time.Time
}

// ActiveAt reports whether the subscription is active at t.
func (g SubscriptionGrant) ActiveAt(t time.Time) bool {
	return g.ActiveUntil == nil || g.ActiveUntil.After(t)
}

// Covers reports whether the subscription's plan covers the given class.
func (g SubscriptionGrant) Covers(class string) bool {
	for _, c := range g.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// PurchaseGrant is a perpetual grant for one exact content item.
type PurchaseGrant struct {
	ContentID string
	GrantedAt time.Time
}

// RentalGrant is a time-bounded grant for one exact content item.
// ExpiresAt is a hard, exclusive boundary: a rental at exactly its expiry
// instant grants nothing.
type RentalGrant struct {
	ContentID string
	ExpiresAt time.Time
}

// ActiveAt reports whether the rental still grants access at t.
func (g RentalGrant) ActiveAt(t time.Time) bool {
	return g.ExpiresAt.After(t)
}
