package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangarshare/backend-hangar/internal/settlement"
)

// Settlements persists settlement splits keyed by the gateway charge
// reference. The unique constraint plus ON CONFLICT DO NOTHING makes the
// insert idempotent under webhook retries and reconciliation replays.
type Settlements struct {
	Pool *pgxpool.Pool
}

// InsertSettlement writes the split, reporting whether a new row was created.
// When the charge reference already exists the stored row is returned instead.
func (r Settlements) InsertSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, bool, error) {
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO settlements (charge_ref, currency, owner_id, owner_amount, platform_amount, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (charge_ref) DO NOTHING
		RETURNING id, charge_ref, currency, owner_id, owner_amount, platform_amount, total_amount, created_at`,
		rec.ChargeRef, rec.Currency, rec.OwnerID, rec.OwnerAmount, rec.PlatformAmount, rec.TotalAmount,
	)
	stored, err := scanSettlement(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return settlement.Record{}, false, fmt.Errorf("insert settlement: %w", err)
	}
	existing, err := r.GetSettlementByChargeRef(ctx, rec.ChargeRef)
	if err != nil {
		return settlement.Record{}, false, err
	}
	return existing, false, nil
}

// GetSettlementByChargeRef loads the split recorded for a charge reference.
func (r Settlements) GetSettlementByChargeRef(ctx context.Context, chargeRef string) (settlement.Record, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT id, charge_ref, currency, owner_id, owner_amount, platform_amount, total_amount, created_at
		FROM settlements WHERE charge_ref = $1`, chargeRef)
	rec, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return settlement.Record{}, fmt.Errorf("%w: settlement %s", ErrNotFound, chargeRef)
	}
	return rec, err
}

func scanSettlement(row pgx.Row) (settlement.Record, error) {
	var rec settlement.Record
	err := row.Scan(&rec.ID, &rec.ChargeRef, &rec.Currency, &rec.OwnerID,
		&rec.OwnerAmount, &rec.PlatformAmount, &rec.TotalAmount, &rec.CreatedAt)
	return rec, err
}
