package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// Status tracks a listing through its publication lifecycle. Paid tiers sit in
// PendingPayment until their payment intent settles.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPublished      Status = "PUBLISHED"
)

var (
	// ErrTitleRequired rejects a listing without a title.
	ErrTitleRequired = errors.New("listing: title is required")
	// ErrInvalidHourlyRate rejects a negative hourly rate.
	ErrInvalidHourlyRate = errors.New("listing: hourly rate must not be negative")
)

// Listing is a classifieds entry for an aircraft available to rent.
type Listing struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Title         string
	Description   string
	Tier          pricing.Tier
	Status        Status
	HourlyRate    *int64
	Currency      string
	PublishedAt   *time.Time
	PaidChargeRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence contract for listings.
type Store interface {
	CreateListing(ctx context.Context, l Listing) (Listing, error)
	GetListing(ctx context.Context, id uuid.UUID) (Listing, error)
	ListListingsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]Listing, error)
	MarkListingPublished(ctx context.Context, id uuid.UUID, chargeRef string) error
}

// Service owns listing creation and publication.
type Service struct {
	Store  Store
	Engine pricing.Engine
	Logger *zerolog.Logger
}

// CreateParams carries the caller-supplied listing fields.
type CreateParams struct {
	OwnerID     uuid.UUID
	Title       string
	Description string
	Tier        pricing.Tier
	HourlyRate  *int64
}

// Create validates and stores a new listing in PendingPayment. The caller then
// opens a payment intent for the tier price; settlement publishes the listing.
// Free-trial listings still go through the intent lifecycle, via the
// zero-amount shortcut.
func (s *Service) Create(ctx context.Context, p CreateParams) (Listing, pricing.Quote, error) {
	ctx, span := otel.Tracer("listing.Service").Start(ctx, "ListingService.Create")
	defer span.End()

	title := strings.TrimSpace(p.Title)
	if title == "" {
		return Listing{}, pricing.Quote{}, ErrTitleRequired
	}
	if p.HourlyRate != nil && *p.HourlyRate < 0 {
		return Listing{}, pricing.Quote{}, ErrInvalidHourlyRate
	}
	quote, err := s.Engine.QuoteTier(p.Tier)
	if err != nil {
		return Listing{}, pricing.Quote{}, err
	}
	span.SetAttributes(attribute.String("listing.tier", string(p.Tier)))

	created, err := s.Store.CreateListing(ctx, Listing{
		ID:          uuid.New(),
		OwnerID:     p.OwnerID,
		Title:       title,
		Description: strings.TrimSpace(p.Description),
		Tier:        p.Tier,
		Status:      StatusPendingPayment,
		HourlyRate:  p.HourlyRate,
		Currency:    s.Engine.Schedule.Currency,
	})
	if err != nil {
		return Listing{}, pricing.Quote{}, fmt.Errorf("create listing: %w", err)
	}
	obs.ObserveQuote("listing")
	return created, quote, nil
}

// Get loads a single listing.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Listing, error) {
	return s.Store.GetListing(ctx, id)
}

// ListByOwner returns the owner's listings, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.ListListingsByOwner(ctx, ownerID, limit, offset)
}

// Quote prices the listing's tier without touching storage state.
func (s *Service) Quote(ctx context.Context, id uuid.UUID) (pricing.Quote, uuid.UUID, error) {
	l, err := s.Store.GetListing(ctx, id)
	if err != nil {
		return pricing.Quote{}, uuid.Nil, err
	}
	quote, err := s.Engine.QuoteTier(l.Tier)
	if err != nil {
		return pricing.Quote{}, uuid.Nil, err
	}
	return quote, l.OwnerID, nil
}

// MarkPaid publishes the listing once its payment intent settles. Idempotent:
// republishing with the same charge reference is a no-op.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, chargeRef string) error {
	if err := s.Store.MarkListingPublished(ctx, id, chargeRef); err != nil {
		return fmt.Errorf("publish listing: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info().
			Str("listing_id", id.String()).
			Str("charge_ref", chargeRef).
			Msg("listing published")
	}
	return nil
}
