package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is the persisted form of a split, keyed by the gateway charge
// reference so retries land on the same row.
type Record struct {
	ID             uuid.UUID
	ChargeRef      string
	Currency       string
	OwnerID        uuid.UUID
	OwnerAmount    int64
	PlatformAmount int64
	TotalAmount    int64
	CreatedAt      time.Time
}

// Store defines the persistence operations the service needs. The insert must
// be idempotent on the charge reference (ON CONFLICT DO NOTHING + readback).
type Store interface {
	InsertSettlement(ctx context.Context, rec Record) (Record, bool, error)
	GetSettlementByChargeRef(ctx context.Context, chargeRef string) (Record, error)
}

// ErrMissingChargeRef indicates a settlement was attempted without a gateway reference.
var ErrMissingChargeRef = errors.New("settlement: charge reference is required")

// Service records settlement splits durably and idempotently.
type Service struct {
	Store  Store
	Logger *zerolog.Logger
}

// Record persists the split for a successfully charged payment. Calling it
// again with the same charge reference returns the originally stored record
// and never produces a second payout.
func (s *Service) Record(ctx context.Context, chargeRef string, ownerID uuid.UUID, split Split) (Record, error) {
	if s == nil || s.Store == nil {
		return Record{}, errors.New("settlement: service not configured")
	}
	chargeRef = strings.TrimSpace(chargeRef)
	if chargeRef == "" {
		return Record{}, ErrMissingChargeRef
	}
	rec := Record{
		ChargeRef:      chargeRef,
		Currency:       split.Total.Currency,
		OwnerID:        ownerID,
		OwnerAmount:    split.OwnerAmount.Amount,
		PlatformAmount: split.PlatformAmount.Amount,
		TotalAmount:    split.Total.Amount,
	}
	stored, inserted, err := s.Store.InsertSettlement(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if !inserted && s.Logger != nil {
		s.Logger.Debug().
			Str("charge_ref", chargeRef).
			Msg("settlement already recorded, returning existing split")
	}
	return stored, nil
}
