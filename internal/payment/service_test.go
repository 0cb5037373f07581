package payment_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hangarshare/backend-hangar/internal/lock"
	"github.com/hangarshare/backend-hangar/internal/money"
	"github.com/hangarshare/backend-hangar/internal/payment"
	"github.com/hangarshare/backend-hangar/internal/pricing"
	"github.com/hangarshare/backend-hangar/internal/settlement"
)

type memIntentStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]payment.Intent
	byRef   map[string]uuid.UUID
	failSet map[payment.State]bool
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{
		byID:  map[uuid.UUID]payment.Intent{},
		byRef: map[string]uuid.UUID{},
	}
}

func (s *memIntentStore) CreateIntent(_ context.Context, intent payment.Intent) (payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[intent.ID] = intent
	return intent, nil
}

func (s *memIntentStore) GetIntent(_ context.Context, id uuid.UUID) (payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.byID[id]
	if !ok {
		return payment.Intent{}, errors.New("intent not found")
	}
	return intent, nil
}

func (s *memIntentStore) GetIntentByChargeRef(_ context.Context, chargeRef string) (payment.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[chargeRef]
	if !ok {
		return payment.Intent{}, errors.New("intent not found")
	}
	return s.byID[id], nil
}

func (s *memIntentStore) UpdateIntent(_ context.Context, intent payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet[intent.State] {
		return errors.New("injected store failure")
	}
	s.byID[intent.ID] = intent
	if intent.ChargeRef != "" {
		s.byRef[intent.ChargeRef] = intent.ID
	}
	return nil
}

type stubGateway struct {
	createErr     error
	confirmStatus payment.ChargeStatus
	confirmErr    error
	createCalls   int
	confirmCalls  int
}

func (g *stubGateway) CreateChargeIntent(_ context.Context, amount int64, _ string) (payment.ChargeIntent, error) {
	g.createCalls++
	if g.createErr != nil {
		return payment.ChargeIntent{}, g.createErr
	}
	return payment.ChargeIntent{Reference: "ch_test_1", ClientSecret: "ch_test_1_secret_abc"}, nil
}

func (g *stubGateway) ConfirmCharge(_ context.Context, _, _ string) (payment.ChargeResult, error) {
	g.confirmCalls++
	if g.confirmErr != nil {
		return payment.ChargeResult{}, g.confirmErr
	}
	return payment.ChargeResult{Status: g.confirmStatus, Reference: "ch_test_1"}, nil
}

func (g *stubGateway) GetCharge(_ context.Context, ref string) (payment.ChargeResult, error) {
	return payment.ChargeResult{Status: g.confirmStatus, Reference: ref}, nil
}

func (g *stubGateway) VerifyWebhook(_ *http.Request, _ []byte) (payment.WebhookResult, error) {
	return payment.WebhookResult{}, nil
}

type memSettleStore struct {
	mu      sync.Mutex
	records map[string]settlement.Record
	inserts int
	failErr error
}

func (s *memSettleStore) InsertSettlement(_ context.Context, rec settlement.Record) (settlement.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return settlement.Record{}, false, s.failErr
	}
	if existing, ok := s.records[rec.ChargeRef]; ok {
		return existing, false, nil
	}
	rec.ID = uuid.New()
	if s.records == nil {
		s.records = map[string]settlement.Record{}
	}
	s.records[rec.ChargeRef] = rec
	s.inserts++
	return rec, true, nil
}

func (s *memSettleStore) GetSettlementByChargeRef(_ context.Context, chargeRef string) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[chargeRef]
	if !ok {
		return settlement.Record{}, errors.New("settlement not found")
	}
	return rec, nil
}

type stubMarker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *stubMarker) MarkPaid(_ context.Context, _ payment.SubjectKind, _ uuid.UUID, chargeRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, chargeRef)
	return nil
}

type stubEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
}

func (e *stubEnqueuer) EnqueueSettlement(_ context.Context, _ uuid.UUID, chargeRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueued = append(e.enqueued, chargeRef)
	return nil
}

type fixture struct {
	store    *memIntentStore
	gateway  *stubGateway
	settles  *memSettleStore
	marker   *stubMarker
	enqueuer *stubEnqueuer
	svc      *payment.Service
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemIntentStore(),
		gateway:  &stubGateway{confirmStatus: payment.ChargeStatusSucceeded},
		settles:  &memSettleStore{},
		marker:   &stubMarker{},
		enqueuer: &stubEnqueuer{},
	}
	f.svc = &payment.Service{
		Store:         f.store,
		Gateway:       f.gateway,
		Settlements:   &settlement.Service{Store: f.settles},
		Marker:        f.marker,
		Recon:         f.enqueuer,
		CommissionBps: 1500,
	}
	return f
}

func usd(amount int64) money.Money { return money.Money{Amount: amount, Currency: "USD"} }

func rentalQuote() pricing.Quote {
	return pricing.Quote{
		Base:          usd(30000),
		Tax:           usd(2475),
		BookingFee:    usd(1800),
		ProcessingFee: usd(900),
		Total:         usd(35175),
	}
}

func freeQuote() pricing.Quote {
	return pricing.Quote{
		Base:          usd(0),
		Tax:           usd(0),
		BookingFee:    usd(0),
		ProcessingFee: usd(0),
		Total:         usd(0),
	}
}

func draftIntent(quote pricing.Quote) payment.Intent {
	return payment.NewIntent(payment.SubjectRental, uuid.New(), uuid.New(), uuid.New(), quote)
}

func TestCreateOpensChargeAndAwaitsConfirmation(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)
	require.Equal(t, payment.StateAwaitingConfirmation, created.State)
	require.Equal(t, "ch_test_1", created.ChargeRef)
	require.NotEmpty(t, created.ClientSecret)
	require.Equal(t, 1, f.gateway.createCalls)
}

func TestCreateFreeIntentSettlesWithoutGateway(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(freeQuote()))
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, created.State)
	require.Zero(t, f.gateway.createCalls)

	rec, err := f.settles.GetSettlementByChargeRef(context.Background(), "free:"+created.ID.String())
	require.NoError(t, err)
	require.Zero(t, rec.OwnerAmount)
	require.Zero(t, rec.PlatformAmount)
	require.Len(t, f.marker.calls, 1)
}

func TestCreateGatewayUnavailableStaysDraft(t *testing.T) {
	f := newFixture()
	f.gateway.createErr = errors.New("connection refused")

	intent := draftIntent(rentalQuote())
	_, err := f.svc.Create(context.Background(), intent)
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	stored, err := f.store.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateDraft, stored.State)
	require.Empty(t, stored.ChargeRef)
}

func TestConfirmSucceededSettles(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	settled, err := f.svc.Confirm(context.Background(), created.ID, "card_visa")
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, settled.State)

	rec, err := f.settles.GetSettlementByChargeRef(context.Background(), "ch_test_1")
	require.NoError(t, err)
	require.Equal(t, int64(25500), rec.OwnerAmount)
	require.Equal(t, int64(9675), rec.PlatformAmount)
	require.Equal(t, int64(35175), rec.TotalAmount)
	require.Equal(t, rec.OwnerAmount+rec.PlatformAmount, rec.TotalAmount)
	require.Equal(t, []string{"ch_test_1"}, f.marker.calls)
}

func TestConfirmDeclinedFailsIntent(t *testing.T) {
	f := newFixture()
	f.gateway.confirmStatus = payment.ChargeStatusDeclined

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	failed, err := f.svc.Confirm(context.Background(), created.ID, "card_declined")
	require.ErrorIs(t, err, payment.ErrPaymentDeclined)
	require.Equal(t, payment.StateFailed, failed.State)
	require.Equal(t, "PAYMENT_DECLINED", failed.FailureCode)
	require.Zero(t, f.settles.inserts)
}

func TestConfirmPendingKeepsAwaitingConfirmation(t *testing.T) {
	f := newFixture()
	f.gateway.confirmStatus = payment.ChargeStatusPending

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	pending, err := f.svc.Confirm(context.Background(), created.ID, "card_slow")
	require.NoError(t, err)
	require.Equal(t, payment.StateAwaitingConfirmation, pending.State)
}

func TestConfirmPersistenceFailureReconciles(t *testing.T) {
	f := newFixture()
	f.settles.failErr = errors.New("db down")

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	// The charge succeeded, so Confirm must not surface the storage failure
	// as a payment error.
	confirmed, err := f.svc.Confirm(context.Background(), created.ID, "card_visa")
	require.NoError(t, err)
	require.Equal(t, payment.StateConfirmed, confirmed.State)
	require.Equal(t, []string{"ch_test_1"}, f.enqueuer.enqueued)

	stored, err := f.store.GetIntent(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateConfirmed, stored.State)

	// Storage recovers; the reconciliation retry settles exactly once.
	f.settles.failErr = nil
	settled, err := f.svc.Settle(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, settled.State)
	require.Equal(t, 1, f.settles.inserts)

	// Re-running the worker on a duplicate task is a no-op.
	again, err := f.svc.Settle(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, again.State)
	require.Equal(t, 1, f.settles.inserts)
}

func TestSettleByChargeRef(t *testing.T) {
	f := newFixture()
	f.settles.failErr = errors.New("db down")

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), created.ID, "card_visa")
	require.NoError(t, err)

	f.settles.failErr = nil
	settled, err := f.svc.SettleByChargeRef(context.Background(), "ch_test_1")
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, settled.State)
}

func TestCancelBeforeConfirmation(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateCanceled, canceled.State)
}

func TestCancelAfterConfirmationRejected(t *testing.T) {
	f := newFixture()
	f.settles.failErr = errors.New("db down")

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), created.ID, "card_visa")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), created.ID)
	require.ErrorIs(t, err, payment.ErrCannotCancelConfirmed)
}

func TestConfirmByChargeRefSettlesOnce(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	settled, err := f.svc.ConfirmByChargeRef(context.Background(), created.ChargeRef, payment.ChargeStatusSucceeded, 35175)
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, settled.State)

	// Webhook redelivery is idempotent.
	again, err := f.svc.ConfirmByChargeRef(context.Background(), created.ChargeRef, payment.ChargeStatusSucceeded, 35175)
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, again.State)
	require.Equal(t, 1, f.settles.inserts)
}

func TestSettleHoldsPerChargeLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture()
	f.svc.Locks = lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}

	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	// Another worker holds the settlement lock for this charge; confirmation
	// must wait for it instead of interleaving writes.
	require.NoError(t, client.Set(context.Background(), "lock:settle:ch_test_1", "other-holder", 0).Err())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.svc.Confirm(ctx, created.ID, "card_visa")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, f.settles.inserts)

	// The holder releases; settlement runs and drops its own lock afterwards.
	require.NoError(t, client.Del(context.Background(), "lock:settle:ch_test_1").Err())
	settled, err := f.svc.Settle(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StateSettled, settled.State)
	require.Equal(t, 1, f.settles.inserts)
	require.False(t, mr.Exists("lock:settle:ch_test_1"))
}

func TestConfirmByChargeRefAmountMismatch(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), draftIntent(rentalQuote()))
	require.NoError(t, err)

	_, err = f.svc.ConfirmByChargeRef(context.Background(), created.ChargeRef, payment.ChargeStatusSucceeded, 99)
	require.ErrorIs(t, err, payment.ErrAmountMismatch)
}
