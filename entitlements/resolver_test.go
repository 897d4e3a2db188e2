package entitlements_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/entitlements"
	memstore "github.com/open-rails/streamgate/entitlements/storage/memory"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newStoreWithMovie() *memstore.Store {
	store := memstore.New()
	store.AddContent(entitlements.Content{ID: "m1", Kind: entitlements.KindOndemand, Class: "premium"})
	return store
}

func TestResolve_UnknownContent(t *testing.T) {
	r := entitlements.NewResolver(newStoreWithMovie())

	_, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "ghost", Kind: entitlements.KindOndemand}, baseTime)
	if !errors.Is(err, core.NotFound("")) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResolve_NoGrants(t *testing.T) {
	r := entitlements.NewResolver(newStoreWithMovie())

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Allowed || v.Reason != entitlements.ReasonNone {
		t.Errorf("verdict = %+v, want denied/none", v)
	}
	if v.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want nil", v.ExpiresAt)
	}
}

func TestResolve_Subscription(t *testing.T) {
	store := newStoreWithMovie()
	store.AddSubscription("u1", entitlements.SubscriptionGrant{
		PlanID:  "plan-premium",
		Classes: []string{"basic", "premium"},
	})
	r := entitlements.NewResolver(store)

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.Allowed || v.Reason != entitlements.ReasonSubscription {
		t.Errorf("verdict = %+v, want subscription", v)
	}
}

func TestResolve_SubscriptionClassMismatch(t *testing.T) {
	store := newStoreWithMovie()
	store.AddSubscription("u1", entitlements.SubscriptionGrant{
		PlanID:  "plan-basic",
		Classes: []string{"basic"},
	})
	r := entitlements.NewResolver(store)

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Allowed {
		t.Errorf("basic plan granted premium content: %+v", v)
	}
}

func TestResolve_SubscriptionExpired(t *testing.T) {
	store := newStoreWithMovie()
	ended := baseTime.Add(-time.Hour)
	store.AddSubscription("u1", entitlements.SubscriptionGrant{
		PlanID:      "plan-premium",
		Classes:     []string{"premium"},
		ActiveUntil: &ended,
	})
	r := entitlements.NewResolver(store)

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Allowed {
		t.Errorf("lapsed subscription granted access: %+v", v)
	}
}

func TestResolve_Purchase(t *testing.T) {
	store := newStoreWithMovie()
	store.AddPurchase("u1", entitlements.PurchaseGrant{ContentID: "m1", GrantedAt: baseTime.Add(-24 * time.Hour)})
	r := entitlements.NewResolver(store)

	// Purchases are perpetual: evaluate far in the future.
	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime.AddDate(10, 0, 0))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.Allowed || v.Reason != entitlements.ReasonPurchase {
		t.Errorf("verdict = %+v, want purchase", v)
	}
}

func TestResolve_RentalWindow(t *testing.T) {
	store := newStoreWithMovie()
	expiry := baseTime.Add(10 * time.Minute)
	store.AddRental("u1", entitlements.RentalGrant{ContentID: "m1", ExpiresAt: expiry})
	r := entitlements.NewResolver(store)
	ref := entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}

	v, err := r.Resolve(context.Background(), "u1", ref, baseTime.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.Allowed || v.Reason != entitlements.ReasonActiveRental {
		t.Fatalf("verdict = %+v, want active_rental", v)
	}
	if v.ExpiresAt == nil || !v.ExpiresAt.Equal(expiry) {
		t.Errorf("expires_at = %v, want %v", v.ExpiresAt, expiry)
	}

	// The boundary is exclusive: at the expiry instant the rental is gone.
	v, err = r.Resolve(context.Background(), "u1", ref, expiry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Allowed || v.Reason != entitlements.ReasonNone {
		t.Errorf("verdict at expiry = %+v, want denied/none", v)
	}

	// One time unit before the boundary still grants.
	v, err = r.Resolve(context.Background(), "u1", ref, expiry.Add(-time.Second))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !v.Allowed || v.Reason != entitlements.ReasonActiveRental {
		t.Errorf("verdict just before expiry = %+v, want active_rental", v)
	}
}

func TestResolve_PrecedenceSubscriptionOverPurchase(t *testing.T) {
	ref := entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}

	// Insertion order must not matter.
	for _, subscriptionFirst := range []bool{true, false} {
		store := newStoreWithMovie()
		sub := entitlements.SubscriptionGrant{PlanID: "p", Classes: []string{"premium"}}
		buy := entitlements.PurchaseGrant{ContentID: "m1", GrantedAt: baseTime}
		if subscriptionFirst {
			store.AddSubscription("u1", sub)
			store.AddPurchase("u1", buy)
		} else {
			store.AddPurchase("u1", buy)
			store.AddSubscription("u1", sub)
		}

		v, err := entitlements.NewResolver(store).Resolve(context.Background(), "u1", ref, baseTime)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if v.Reason != entitlements.ReasonSubscription {
			t.Errorf("subscriptionFirst=%v: reason = %q, want subscription", subscriptionFirst, v.Reason)
		}
	}
}

func TestResolve_PrecedencePurchaseOverRental(t *testing.T) {
	store := newStoreWithMovie()
	store.AddPurchase("u1", entitlements.PurchaseGrant{ContentID: "m1", GrantedAt: baseTime})
	store.AddRental("u1", entitlements.RentalGrant{ContentID: "m1", ExpiresAt: baseTime.Add(time.Hour)})
	r := entitlements.NewResolver(store)

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Reason != entitlements.ReasonPurchase {
		t.Errorf("reason = %q, want purchase", v.Reason)
	}
	if v.ExpiresAt != nil {
		t.Errorf("purchase verdict carries expiry: %v", v.ExpiresAt)
	}
}

func TestResolve_LongestRentalWins(t *testing.T) {
	store := newStoreWithMovie()
	store.AddRental("u1", entitlements.RentalGrant{ContentID: "m1", ExpiresAt: baseTime.Add(time.Hour)})
	store.AddRental("u1", entitlements.RentalGrant{ContentID: "m1", ExpiresAt: baseTime.Add(48 * time.Hour)})
	r := entitlements.NewResolver(store)

	v, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindOndemand}, baseTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.ExpiresAt == nil || !v.ExpiresAt.Equal(baseTime.Add(48*time.Hour)) {
		t.Errorf("expires_at = %v, want the later rental", v.ExpiresAt)
	}
}

func TestResolve_WrongKindIsNotFound(t *testing.T) {
	r := entitlements.NewResolver(newStoreWithMovie())

	// m1 exists as ondemand, not as a live channel.
	_, err := r.Resolve(context.Background(), "u1", entitlements.ContentRef{ID: "m1", Kind: entitlements.KindLive}, baseTime)
	if !errors.Is(err, core.NotFound("")) {
		t.Fatalf("err = %v, want not found", err)
	}
}
