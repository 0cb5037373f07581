package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hangarshare/backend-hangar/internal/listing"
	"github.com/hangarshare/backend-hangar/internal/money"
	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// Status tracks a booking from quote acceptance to paid.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusCanceled       Status = "CANCELED"
)

var (
	// ErrListingNotRentable rejects bookings against listings without a rate.
	ErrListingNotRentable = errors.New("rental: listing has no hourly rate")
	// ErrListingUnpublished rejects bookings against unpublished listings.
	ErrListingUnpublished = errors.New("rental: listing is not published")
	// ErrOwnBooking rejects an owner renting their own aircraft.
	ErrOwnBooking = errors.New("rental: cannot book your own listing")
)

// Rental is a booking of a listing for a number of hours, priced at the
// listing's hourly rate when the booking was created.
type Rental struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	RenterID      uuid.UUID
	OwnerID       uuid.UUID
	Hours         int64
	HourlyRate    int64
	Currency      string
	Status        Status
	PaidChargeRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence contract for rentals.
type Store interface {
	CreateRental(ctx context.Context, r Rental) (Rental, error)
	GetRental(ctx context.Context, id uuid.UUID) (Rental, error)
	ListRentalsByRenter(ctx context.Context, renterID uuid.UUID, limit, offset int32) ([]Rental, error)
	MarkRentalPaid(ctx context.Context, id uuid.UUID, chargeRef string) error
}

// Service owns rental quoting and booking.
type Service struct {
	Store    Store
	Listings *listing.Service
	Engine   pricing.Engine
	Logger   *zerolog.Logger
}

// QuoteListing prices renting the given listing for the given hours.
func (s *Service) QuoteListing(ctx context.Context, listingID uuid.UUID, hours int64) (pricing.Quote, error) {
	l, err := s.Listings.Get(ctx, listingID)
	if err != nil {
		return pricing.Quote{}, err
	}
	if l.HourlyRate == nil {
		return pricing.Quote{}, ErrListingNotRentable
	}
	rate := money.Money{Amount: *l.HourlyRate, Currency: l.Currency}
	quote, err := s.Engine.QuoteHourly(rate, hours)
	if err != nil {
		return pricing.Quote{}, err
	}
	obs.ObserveQuote("rental")
	return quote, nil
}

// Create books a published listing for the renter, snapshotting the rate. The
// booking stays PendingPayment until its intent settles.
func (s *Service) Create(ctx context.Context, listingID, renterID uuid.UUID, hours int64) (Rental, pricing.Quote, error) {
	ctx, span := otel.Tracer("rental.Service").Start(ctx, "RentalService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", listingID.String()))

	l, err := s.Listings.Get(ctx, listingID)
	if err != nil {
		return Rental{}, pricing.Quote{}, err
	}
	if l.Status != listing.StatusPublished {
		return Rental{}, pricing.Quote{}, ErrListingUnpublished
	}
	if l.HourlyRate == nil {
		return Rental{}, pricing.Quote{}, ErrListingNotRentable
	}
	if l.OwnerID == renterID {
		return Rental{}, pricing.Quote{}, ErrOwnBooking
	}
	rate := money.Money{Amount: *l.HourlyRate, Currency: l.Currency}
	quote, err := s.Engine.QuoteHourly(rate, hours)
	if err != nil {
		return Rental{}, pricing.Quote{}, err
	}

	created, err := s.Store.CreateRental(ctx, Rental{
		ID:         uuid.New(),
		ListingID:  l.ID,
		RenterID:   renterID,
		OwnerID:    l.OwnerID,
		Hours:      hours,
		HourlyRate: *l.HourlyRate,
		Currency:   l.Currency,
		Status:     StatusPendingPayment,
	})
	if err != nil {
		return Rental{}, pricing.Quote{}, fmt.Errorf("create rental: %w", err)
	}
	return created, quote, nil
}

// Get loads a single rental.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Rental, error) {
	return s.Store.GetRental(ctx, id)
}

// ListByRenter returns the renter's bookings, newest first.
func (s *Service) ListByRenter(ctx context.Context, renterID uuid.UUID, limit, offset int32) ([]Rental, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.ListRentalsByRenter(ctx, renterID, limit, offset)
}

// Quote reprices an existing booking from its snapshot, for the payment flow.
func (s *Service) Quote(ctx context.Context, id uuid.UUID) (pricing.Quote, uuid.UUID, error) {
	r, err := s.Store.GetRental(ctx, id)
	if err != nil {
		return pricing.Quote{}, uuid.Nil, err
	}
	rate := money.Money{Amount: r.HourlyRate, Currency: r.Currency}
	quote, err := s.Engine.QuoteHourly(rate, r.Hours)
	if err != nil {
		return pricing.Quote{}, uuid.Nil, err
	}
	return quote, r.OwnerID, nil
}

// MarkPaid flips the booking to Paid once its payment intent settles.
// Idempotent per charge reference.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, chargeRef string) error {
	if err := s.Store.MarkRentalPaid(ctx, id, chargeRef); err != nil {
		return fmt.Errorf("mark rental paid: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info().
			Str("rental_id", id.String()).
			Str("charge_ref", chargeRef).
			Msg("rental paid")
	}
	return nil
}
