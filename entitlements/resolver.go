package entitlements

import (
	"context"
	"fmt"
	"time"
)

// Store reads committed grant and catalog snapshots. The billing service
// owns and mutates the records; the resolver only reads, without any
// cross-request lock. Implementations must return the latest committed
// state at call time.
type Store interface {
	// Content returns the catalog snapshot for ref, or core.NotFound when
	// the reference is unknown.
	Content(ctx context.Context, ref ContentRef) (Content, error)
	// Subscriptions returns the subject's subscription grants.
	Subscriptions(ctx context.Context, subjectID string) ([]SubscriptionGrant, error)
	// Purchases returns the subject's purchase grants for one content item.
	Purchases(ctx context.Context, subjectID, contentID string) ([]PurchaseGrant, error)
	// Rentals returns the subject's rental grants for one content item,
	// expired ones included.
	Rentals(ctx context.Context, subjectID, contentID string) ([]RentalGrant, error)
}

// Resolver combines grants into an access verdict. It holds no state
// besides the store handle and is safe for concurrent use. Verdicts must
// not be cached: grants expire between calls.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve evaluates access for subjectID to ref as of evaluatedAt.
// evaluatedAt must be the resolution time supplied by the caller, not the
// request receipt time, so expiry comparisons stay correct across retries.
//
// Precedence is fixed, first match wins:
//  1. active subscription covering the content's class
//  2. perpetual purchase of the exact content
//  3. rental of the exact content with expiry strictly after evaluatedAt
//
// An unknown ref fails with core.NotFound before any grant lookup; it is
// never conflated with a deny.
func (r *Resolver) Resolve(ctx context.Context, subjectID string, ref ContentRef, evaluatedAt time.Time) (Verdict, error) {
	content, err := r.store.Content(ctx, ref)
	if err != nil {
		return Verdict{}, err
	}

	subs, err := r.store.Subscriptions(ctx, subjectID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load subscriptions for %s: %w", subjectID, err)
	}
	for _, sub := range subs {
		if sub.ActiveAt(evaluatedAt) && sub.Covers(content.Class) {
			return Verdict{Allowed: true, Reason: ReasonSubscription}, nil
		}
	}

	purchases, err := r.store.Purchases(ctx, subjectID, content.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load purchases for %s/%s: %w", subjectID, content.ID, err)
	}
	if len(purchases) > 0 {
		return Verdict{Allowed: true, Reason: ReasonPurchase}, nil
	}

	rentals, err := r.store.Rentals(ctx, subjectID, content.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load rentals for %s/%s: %w", subjectID, content.ID, err)
	}
	var best *RentalGrant
	for i := range rentals {
		g := rentals[i]
		if !g.ActiveAt(evaluatedAt) {
			continue
		}
		if best == nil || g.ExpiresAt.After(best.ExpiresAt) {
			best = &g
		}
	}
	if best != nil {
		exp := best.ExpiresAt
		return Verdict{Allowed: true, Reason: ReasonActiveRental, ExpiresAt: &exp}, nil
	}

	return Verdict{Allowed: false, Reason: ReasonNone}, nil
}
