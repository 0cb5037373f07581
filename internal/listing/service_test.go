package listing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hangarshare/backend-hangar/internal/listing"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

type memStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]listing.Listing
}

func newMemStore() *memStore {
	return &memStore{listings: map[uuid.UUID]listing.Listing{}}
}

func (m *memStore) CreateListing(_ context.Context, l listing.Listing) (listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
	return l, nil
}

func (m *memStore) GetListing(_ context.Context, id uuid.UUID) (listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return listing.Listing{}, errors.New("listing not found")
	}
	return l, nil
}

func (m *memStore) ListListingsByOwner(_ context.Context, ownerID uuid.UUID, _, _ int32) ([]listing.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []listing.Listing
	for _, l := range m.listings {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) MarkListingPublished(_ context.Context, id uuid.UUID, chargeRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listings[id]
	l.Status = listing.StatusPublished
	l.PaidChargeRef = chargeRef
	m.listings[id] = l
	return nil
}

func testEngine() pricing.Engine {
	return pricing.Engine{Schedule: pricing.FeeSchedule{
		Currency:         "USD",
		TaxBps:           825,
		BookingFeeBps:    600,
		ProcessingFeeBps: 300,
		CommissionBps:    1500,
		TierPrices: map[pricing.Tier]int64{
			pricing.TierBasic:    2500,
			pricing.TierFeatured: 7500,
			pricing.TierEnhanced: 14900,
		},
	}}
}

func TestCreateStartsPendingPayment(t *testing.T) {
	store := newMemStore()
	svc := &listing.Service{Store: store, Engine: testEngine()}

	rate := int64(30000)
	created, quote, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID:    uuid.New(),
		Title:      "Cessna 172 Skyhawk",
		Tier:       pricing.TierBasic,
		HourlyRate: &rate,
	})
	require.NoError(t, err)
	require.Equal(t, listing.StatusPendingPayment, created.Status)
	require.Equal(t, int64(2500), quote.Base.Amount)
	require.Positive(t, quote.Total.Amount)
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	svc := &listing.Service{Store: newMemStore(), Engine: testEngine()}
	_, _, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID: uuid.New(),
		Title:   "   ",
		Tier:    pricing.TierBasic,
	})
	require.ErrorIs(t, err, listing.ErrTitleRequired)
}

func TestCreateRejectsNegativeRate(t *testing.T) {
	svc := &listing.Service{Store: newMemStore(), Engine: testEngine()}
	rate := int64(-1)
	_, _, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID:    uuid.New(),
		Title:      "Piper Cherokee",
		Tier:       pricing.TierBasic,
		HourlyRate: &rate,
	})
	require.ErrorIs(t, err, listing.ErrInvalidHourlyRate)
}

func TestCreateRejectsUnknownTier(t *testing.T) {
	svc := &listing.Service{Store: newMemStore(), Engine: testEngine()}
	_, _, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID: uuid.New(),
		Title:   "Piper Cherokee",
		Tier:    pricing.Tier("PLATINUM"),
	})
	require.ErrorIs(t, err, pricing.ErrUnknownTier)
}

func TestFreeTrialQuotesZero(t *testing.T) {
	svc := &listing.Service{Store: newMemStore(), Engine: testEngine()}
	_, quote, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID: uuid.New(),
		Title:   "Glider weekend special",
		Tier:    pricing.TierFreeTrial,
	})
	require.NoError(t, err)
	require.True(t, quote.IsFree())
}

func TestMarkPaidPublishes(t *testing.T) {
	store := newMemStore()
	svc := &listing.Service{Store: store, Engine: testEngine()}

	created, _, err := svc.Create(context.Background(), listing.CreateParams{
		OwnerID: uuid.New(),
		Title:   "Cessna 172 Skyhawk",
		Tier:    pricing.TierBasic,
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkPaid(context.Background(), created.ID, "ch_pub_1"))
	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, listing.StatusPublished, got.Status)
	require.Equal(t, "ch_pub_1", got.PaidChargeRef)
}
