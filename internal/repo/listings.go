package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangarshare/backend-hangar/internal/listing"
)

// Listings is the pgx-backed listing store.
type Listings struct {
	Pool *pgxpool.Pool
}

const listingColumns = `id, owner_id, title, description, tier, status, hourly_rate, currency,
	published_at, COALESCE(paid_charge_ref, ''), created_at, updated_at`

// CreateListing inserts a new listing row.
func (r Listings) CreateListing(ctx context.Context, l listing.Listing) (listing.Listing, error) {
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO listings (id, owner_id, title, description, tier, status, hourly_rate, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+listingColumns,
		l.ID, l.OwnerID, l.Title, l.Description, l.Tier, l.Status, l.HourlyRate, l.Currency,
	)
	return scanListing(row)
}

// GetListing loads a listing by id.
func (r Listings) GetListing(ctx context.Context, id uuid.UUID) (listing.Listing, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return listing.Listing{}, fmt.Errorf("%w: listing %s", ErrNotFound, id)
	}
	return l, err
}

// ListListingsByOwner returns the owner's listings, newest first.
func (r Listings) ListListingsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]listing.Listing, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkListingPublished publishes a listing after payment. The status guard
// makes re-delivery a no-op.
func (r Listings) MarkListingPublished(ctx context.Context, id uuid.UUID, chargeRef string) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE listings
		SET status = $2, published_at = COALESCE(published_at, now()),
			paid_charge_ref = $3, updated_at = now()
		WHERE id = $1 AND (status != $2 OR paid_charge_ref IS DISTINCT FROM $3)`,
		id, listing.StatusPublished, chargeRef,
	)
	if err != nil {
		return fmt.Errorf("publish listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already published with this charge, or unknown id. Verify existence.
		var exists bool
		if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: listing %s", ErrNotFound, id)
		}
	}
	return nil
}

func scanListing(row pgx.Row) (listing.Listing, error) {
	var l listing.Listing
	err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.Tier, &l.Status,
		&l.HourlyRate, &l.Currency, &l.PublishedAt, &l.PaidChargeRef, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
