// Package pgstore reads grant and catalog snapshots from Postgres. All
// queries are single-row or single-subject reads against committed state;
// the billing and catalog services own the writes.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/entitlements"
)

type catalogItemRow struct {
	bun.BaseModel `bun:"table:catalog_items,alias:ci"`

	ID    string `bun:"id,pk"`
	Kind  string `bun:"kind"`
	Class string `bun:"class"`
}

type subscriptionRow struct {
	bun.BaseModel `bun:"table:subscriptions,alias:s"`

	ID          int64      `bun:"id,pk,autoincrement"`
	SubjectID   string     `bun:"subject_id"`
	PlanID      string     `bun:"plan_id"`
	Classes     []string   `bun:"classes,array"`
	ActiveUntil *time.Time `bun:"active_until"`
}

type purchaseRow struct {
	bun.BaseModel `bun:"table:purchases,alias:p"`

	ID        int64     `bun:"id,pk,autoincrement"`
	SubjectID string    `bun:"subject_id"`
	ContentID string    `bun:"content_id"`
	GrantedAt time.Time `bun:"granted_at"`
}

type rentalRow struct {
	bun.BaseModel `bun:"table:rentals,alias:r"`

	ID        int64     `bun:"id,pk,autoincrement"`
	SubjectID string    `bun:"subject_id"`
	ContentID string    `bun:"content_id"`
	ExpiresAt time.Time `bun:"expires_at"`
}

// Store implements entitlements.Store over Postgres.
type Store struct {
	db *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// NewFromDSN opens a pooled bun connection for the given Postgres DSN.
// The caller owns the returned DB and closes it at shutdown.
func NewFromDSN(dsn string) (*Store, *bun.DB, error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("empty postgres dsn")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return New(db), db, nil
}

func (s *Store) Content(ctx context.Context, ref entitlements.ContentRef) (entitlements.Content, error) {
	var row catalogItemRow
	err := s.db.NewSelect().
		Model(&row).
		Where("ci.id = ?", ref.ID).
		Where("ci.kind = ?", string(ref.Kind)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlements.Content{}, core.NotFound("unknown content reference")
	}
	if err != nil {
		return entitlements.Content{}, fmt.Errorf("lookup catalog item %s: %w", ref.ID, err)
	}
	return entitlements.Content{
		ID:    row.ID,
		Kind:  entitlements.ContentKind(row.Kind),
		Class: row.Class,
	}, nil
}

func (s *Store) Subscriptions(ctx context.Context, subjectID string) ([]entitlements.SubscriptionGrant, error) {
	var rows []subscriptionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("s.subject_id = ?", subjectID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entitlements.SubscriptionGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, entitlements.SubscriptionGrant{
			PlanID:      r.PlanID,
			Classes:     r.Classes,
			ActiveUntil: r.ActiveUntil,
		})
	}
	return out, nil
}

func (s *Store) Purchases(ctx context.Context, subjectID, contentID string) ([]entitlements.PurchaseGrant, error) {
	var rows []purchaseRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("p.subject_id = ?", subjectID).
		Where("p.content_id = ?", contentID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entitlements.PurchaseGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, entitlements.PurchaseGrant{
			ContentID: r.ContentID,
			GrantedAt: r.GrantedAt,
		})
	}
	return out, nil
}

func (s *Store) Rentals(ctx context.Context, subjectID, contentID string) ([]entitlements.RentalGrant, error) {
	var rows []rentalRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("r.subject_id = ?", subjectID).
		Where("r.content_id = ?", contentID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entitlements.RentalGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, entitlements.RentalGrant{
			ContentID: r.ContentID,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return out, nil
}
