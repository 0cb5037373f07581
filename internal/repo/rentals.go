package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangarshare/backend-hangar/internal/rental"
)

// Rentals is the pgx-backed rental store.
type Rentals struct {
	Pool *pgxpool.Pool
}

const rentalColumns = `id, listing_id, renter_id, owner_id, hours, hourly_rate, currency,
	status, COALESCE(paid_charge_ref, ''), created_at, updated_at`

// CreateRental inserts a new booking row.
func (r Rentals) CreateRental(ctx context.Context, rent rental.Rental) (rental.Rental, error) {
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO rentals (id, listing_id, renter_id, owner_id, hours, hourly_rate, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+rentalColumns,
		rent.ID, rent.ListingID, rent.RenterID, rent.OwnerID, rent.Hours, rent.HourlyRate, rent.Currency, rent.Status,
	)
	return scanRental(row)
}

// GetRental loads a booking by id.
func (r Rentals) GetRental(ctx context.Context, id uuid.UUID) (rental.Rental, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = $1`, id)
	rent, err := scanRental(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rental.Rental{}, fmt.Errorf("%w: rental %s", ErrNotFound, id)
	}
	return rent, err
}

// ListRentalsByRenter returns the renter's bookings, newest first.
func (r Rentals) ListRentalsByRenter(ctx context.Context, renterID uuid.UUID, limit, offset int32) ([]rental.Rental, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+rentalColumns+` FROM rentals
		WHERE renter_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, renterID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rental.Rental
	for rows.Next() {
		rent, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rent)
	}
	return out, rows.Err()
}

// MarkRentalPaid flips the booking to PAID after settlement; idempotent under
// webhook retries.
func (r Rentals) MarkRentalPaid(ctx context.Context, id uuid.UUID, chargeRef string) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE rentals
		SET status = $2, paid_charge_ref = $3, updated_at = now()
		WHERE id = $1 AND (status != $2 OR paid_charge_ref IS DISTINCT FROM $3)`,
		id, rental.StatusPaid, chargeRef,
	)
	if err != nil {
		return fmt.Errorf("mark rental paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rentals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: rental %s", ErrNotFound, id)
		}
	}
	return nil
}

func scanRental(row pgx.Row) (rental.Rental, error) {
	var rent rental.Rental
	err := row.Scan(&rent.ID, &rent.ListingID, &rent.RenterID, &rent.OwnerID, &rent.Hours,
		&rent.HourlyRate, &rent.Currency, &rent.Status, &rent.PaidChargeRef, &rent.CreatedAt, &rent.UpdatedAt)
	return rent, err
}
