// Package memstore is an in-memory entitlements.Store for development and
// tests. It mirrors the Postgres store's read semantics, including the
// distinct not-found failure for unknown content.
package memstore

import (
	"context"
	"sync"

	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/entitlements"
)

type Store struct {
	mu            sync.RWMutex
	catalog       map[entitlements.ContentRef]entitlements.Content
	subscriptions map[string][]entitlements.SubscriptionGrant
	purchases     map[string][]entitlements.PurchaseGrant
	rentals       map[string][]entitlements.RentalGrant
}

func New() *Store {
	return &Store{
		catalog:       make(map[entitlements.ContentRef]entitlements.Content),
		subscriptions: make(map[string][]entitlements.SubscriptionGrant),
		purchases:     make(map[string][]entitlements.PurchaseGrant),
		rentals:       make(map[string][]entitlements.RentalGrant),
	}
}

// AddContent registers a catalog item.
func (s *Store) AddContent(c entitlements.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[entitlements.ContentRef{ID: c.ID, Kind: c.Kind}] = c
}

// AddSubscription records a subscription grant for a subject.
func (s *Store) AddSubscription(subjectID string, g entitlements.SubscriptionGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[subjectID] = append(s.subscriptions[subjectID], g)
}

// AddPurchase records a purchase grant for a subject.
func (s *Store) AddPurchase(subjectID string, g entitlements.PurchaseGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[subjectID] = append(s.purchases[subjectID], g)
}

// AddRental records a rental grant for a subject.
func (s *Store) AddRental(subjectID string, g entitlements.RentalGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rentals[subjectID] = append(s.rentals[subjectID], g)
}

func (s *Store) Content(_ context.Context, ref entitlements.ContentRef) (entitlements.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.catalog[ref]
	if !ok {
		return entitlements.Content{}, core.NotFound("unknown content reference")
	}
	return c, nil
}

func (s *Store) Subscriptions(_ context.Context, subjectID string) ([]entitlements.SubscriptionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entitlements.SubscriptionGrant(nil), s.subscriptions[subjectID]...), nil
}

func (s *Store) Purchases(_ context.Context, subjectID, contentID string) ([]entitlements.PurchaseGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entitlements.PurchaseGrant
	for _, g := range s.purchases[subjectID] {
		if g.ContentID == contentID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) Rentals(_ context.Context, subjectID, contentID string) ([]entitlements.RentalGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entitlements.RentalGrant
	for _, g := range s.rentals[subjectID] {
		if g.ContentID == contentID {
			out = append(out, g)
		}
	}
	return out, nil
}
