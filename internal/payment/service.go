package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hangarshare/backend-hangar/internal/events"
	"github.com/hangarshare/backend-hangar/internal/lock"
	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/settlement"
)

// IntentStore persists payment intents and their state transitions.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent Intent) (Intent, error)
	GetIntent(ctx context.Context, id uuid.UUID) (Intent, error)
	GetIntentByChargeRef(ctx context.Context, chargeRef string) (Intent, error)
	UpdateIntent(ctx context.Context, intent Intent) error
}

// PaidMarker flips the paid flag on the record the intent pays for. The write
// must be idempotent: reconciliation may re-invoke it for the same charge.
type PaidMarker interface {
	MarkPaid(ctx context.Context, kind SubjectKind, subjectID uuid.UUID, chargeRef string) error
}

// ReconcileEnqueuer schedules a settlement retry for a confirmed intent whose
// persistence failed after the charge succeeded.
type ReconcileEnqueuer interface {
	EnqueueSettlement(ctx context.Context, intentID uuid.UUID, chargeRef string) error
}

// Service coordinates the payment intent lifecycle against the gateway, the
// settlement splitter, and the persisted rental/listing records. A single
// logical transaction runs per intent; the gateway call is the only suspension
// point and runs under GatewayTimeout.
type Service struct {
	Store          IntentStore
	Gateway        Gateway
	Settlements    *settlement.Service
	Marker         PaidMarker
	Recon          ReconcileEnqueuer
	Events         *events.Bus
	Locks          lock.Locker
	SettleLockTTL  time.Duration
	CommissionBps  int64
	GatewayTimeout time.Duration
	Logger         *zerolog.Logger
}

// Create opens a charge with the gateway and moves the intent from Draft to
// AwaitingConfirmation. Free quotes short-circuit Draft -> Settled without any
// gateway interaction. On a gateway transport failure the intent stays Draft
// and ErrGatewayUnavailable is returned for the caller to back off and retry
// after polling the gateway.
func (s *Service) Create(ctx context.Context, intent Intent) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("intent.id", intent.ID.String()))

	if intent.State != StateDraft {
		return Intent{}, fmt.Errorf("%w: create from %s", ErrInvalidTransition, intent.State)
	}

	stored, err := s.Store.CreateIntent(ctx, intent)
	if err != nil {
		return Intent{}, err
	}

	if stored.Quote.IsFree() {
		// Zero-amount confirmation path: no external charge is ever made.
		return s.settleLocked(ctx, stored, "free:"+stored.ID.String())
	}
	if stored.Quote.Total.IsNegative() {
		return Intent{}, fmt.Errorf("%w: %d", ErrInvalidAmount, stored.Quote.Total.Amount)
	}

	callCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	charge, err := s.Gateway.CreateChargeIntent(callCtx, stored.Quote.Total.Amount, stored.Quote.Total.Currency)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrInvalidAmount) {
			return Intent{}, err
		}
		// Ambiguous or transport failure: no transition, the stored intent
		// remains Draft and the gateway is the source of truth.
		obs.ObservePaymentIntent("create", "gateway_unavailable")
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	stored.ChargeRef = charge.Reference
	stored.ClientSecret = charge.ClientSecret
	if err := stored.transition(StateAwaitingConfirmation); err != nil {
		return Intent{}, err
	}
	if err := s.Store.UpdateIntent(ctx, stored); err != nil {
		return Intent{}, err
	}
	obs.ObservePaymentIntent("create", "success")
	return stored, nil
}

// Confirm delegates charge confirmation to the gateway. A decline moves the
// intent to Failed and is never retried automatically; success moves it to
// Confirmed and immediately attempts settlement. A settlement persistence
// failure is not surfaced as a payment failure: the charge succeeded, the
// intent stays Confirmed, and reconciliation finishes the job.
func (s *Service) Confirm(ctx context.Context, intentID uuid.UUID, paymentMethod string) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Confirm")
	defer span.End()

	intent, err := s.Store.GetIntent(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	if intent.State != StateAwaitingConfirmation {
		return Intent{}, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, intent.State)
	}

	callCtx, cancel := s.gatewayContext(ctx)
	defer cancel()
	result, err := s.Gateway.ConfirmCharge(callCtx, intent.ClientSecret, paymentMethod)
	if err != nil {
		span.RecordError(err)
		obs.ObservePaymentIntent("confirm", "gateway_unavailable")
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch result.Status {
	case ChargeStatusSucceeded:
		if err := intent.transition(StateConfirmed); err != nil {
			return Intent{}, err
		}
		if result.Reference != "" {
			intent.ChargeRef = result.Reference
		}
		if err := s.Store.UpdateIntent(ctx, intent); err != nil {
			return Intent{}, err
		}
		obs.ObservePaymentIntent("confirm", "success")
		settled, err := s.settleLocked(ctx, intent, intent.ChargeRef)
		if err != nil {
			if errors.Is(err, ErrPersistenceFailure) {
				// Payment succeeded; reconciliation owns the rest.
				return intent, nil
			}
			return Intent{}, err
		}
		return settled, nil
	case ChargeStatusDeclined:
		if err := intent.transition(StateFailed); err != nil {
			return Intent{}, err
		}
		intent.FailureCode = "PAYMENT_DECLINED"
		if err := s.Store.UpdateIntent(ctx, intent); err != nil {
			return Intent{}, err
		}
		obs.ObservePaymentIntent("confirm", "declined")
		s.emit(ctx, events.TopicPaymentFailed, intent.ID, map[string]any{
			"intentId":  intent.ID.String(),
			"chargeRef": intent.ChargeRef,
			"reason":    intent.FailureCode,
		})
		return intent, ErrPaymentDeclined
	default:
		// Still pending at the gateway; no transition.
		return intent, nil
	}
}

// Settle finalises a confirmed intent: computes the split, records it, marks
// the subject record paid, and transitions to Settled. It is idempotent per
// charge reference and safe to re-invoke from the reconciliation worker.
func (s *Service) Settle(ctx context.Context, intentID uuid.UUID) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	intent, err := s.Store.GetIntent(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	if intent.State == StateSettled {
		return intent, nil
	}
	if intent.State != StateConfirmed {
		return Intent{}, fmt.Errorf("%w: settle from %s", ErrInvalidTransition, intent.State)
	}
	return s.settleLocked(ctx, intent, intent.ChargeRef)
}

// SettleByChargeRef resolves the intent owning the given gateway reference and
// settles it. Used by the webhook and the reconciliation worker.
func (s *Service) SettleByChargeRef(ctx context.Context, chargeRef string) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	intent, err := s.Store.GetIntentByChargeRef(ctx, chargeRef)
	if err != nil {
		return Intent{}, err
	}
	return s.Settle(ctx, intent.ID)
}

// ConfirmByChargeRef applies an asynchronous gateway outcome delivered via
// webhook. Success promotes AwaitingConfirmation to Confirmed and settles;
// re-delivery of an already settled charge is a no-op. A decline fails the
// intent if the state machine still allows it.
func (s *Service) ConfirmByChargeRef(ctx context.Context, chargeRef string, status ChargeStatus, amount int64) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	intent, err := s.Store.GetIntentByChargeRef(ctx, chargeRef)
	if err != nil {
		return Intent{}, err
	}
	if amount > 0 && intent.Quote.Total.Amount != amount {
		return Intent{}, fmt.Errorf("%w: gateway reported %d, quoted %d", ErrAmountMismatch, amount, intent.Quote.Total.Amount)
	}
	switch status {
	case ChargeStatusSucceeded:
		if intent.State == StateSettled {
			return intent, nil
		}
		if intent.State == StateAwaitingConfirmation {
			if err := intent.transition(StateConfirmed); err != nil {
				return Intent{}, err
			}
			if err := s.Store.UpdateIntent(ctx, intent); err != nil {
				return Intent{}, err
			}
		}
		if intent.State != StateConfirmed {
			return Intent{}, fmt.Errorf("%w: webhook success from %s", ErrInvalidTransition, intent.State)
		}
		settled, err := s.settleLocked(ctx, intent, intent.ChargeRef)
		if err != nil {
			if errors.Is(err, ErrPersistenceFailure) {
				return intent, nil
			}
			return Intent{}, err
		}
		return settled, nil
	case ChargeStatusDeclined:
		if intent.State == StateFailed {
			return intent, nil
		}
		if !intent.State.CanTransition(StateFailed) {
			return Intent{}, fmt.Errorf("%w: webhook decline from %s", ErrInvalidTransition, intent.State)
		}
		if err := intent.transition(StateFailed); err != nil {
			return Intent{}, err
		}
		intent.FailureCode = "PAYMENT_DECLINED"
		if err := s.Store.UpdateIntent(ctx, intent); err != nil {
			return Intent{}, err
		}
		obs.ObservePaymentIntent("webhook", "declined")
		s.emit(ctx, events.TopicPaymentFailed, intent.ID, map[string]any{
			"intentId":  intent.ID.String(),
			"chargeRef": intent.ChargeRef,
			"reason":    intent.FailureCode,
		})
		return intent, nil
	default:
		return intent, nil
	}
}

// Cancel aborts an intent before confirmation.
func (s *Service) Cancel(ctx context.Context, intentID uuid.UUID) (Intent, error) {
	if err := s.configured(); err != nil {
		return Intent{}, err
	}
	intent, err := s.Store.GetIntent(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	switch intent.State {
	case StateDraft, StateAwaitingConfirmation:
		if err := intent.transition(StateCanceled); err != nil {
			return Intent{}, err
		}
		if err := s.Store.UpdateIntent(ctx, intent); err != nil {
			return Intent{}, err
		}
		obs.ObservePaymentIntent("cancel", "success")
		return intent, nil
	default:
		return Intent{}, ErrCannotCancelConfirmed
	}
}

// settleLocked runs the settlement sequence under a per-charge distributed
// lock so the webhook path and the reconciliation worker cannot interleave
// writes for the same charge. When no Redis client is configured the sequence
// runs unguarded; the idempotent steps still make a lone re-run safe.
func (s *Service) settleLocked(ctx context.Context, intent Intent, chargeRef string) (Intent, error) {
	if s.Locks.R == nil {
		return s.runSettlement(ctx, intent, chargeRef)
	}
	var settled Intent
	err := s.Locks.WithLock(ctx, "lock:settle:"+chargeRef, s.SettleLockTTL, func(ctx context.Context) error {
		var runErr error
		settled, runErr = s.runSettlement(ctx, intent, chargeRef)
		return runErr
	})
	return settled, err
}

// runSettlement persists the split keyed by chargeRef, marks the subject paid,
// and advances the intent to Settled; every step is idempotent so a crash at
// any point is recovered by re-running.
func (s *Service) runSettlement(ctx context.Context, intent Intent, chargeRef string) (Intent, error) {
	split, err := settlement.ComputeSplit(intent.Quote, s.CommissionBps)
	if err != nil {
		return Intent{}, err
	}

	if _, err := s.Settlements.Record(ctx, chargeRef, intent.OwnerID, split); err != nil {
		return intent, s.persistenceFailed(ctx, intent, chargeRef, fmt.Errorf("record split: %w", err))
	}
	if err := s.Marker.MarkPaid(ctx, intent.SubjectKind, intent.SubjectID, chargeRef); err != nil {
		return intent, s.persistenceFailed(ctx, intent, chargeRef, fmt.Errorf("mark paid: %w", err))
	}

	intent.ChargeRef = chargeRef
	if err := intent.transition(StateSettled); err != nil {
		return Intent{}, err
	}
	if err := s.Store.UpdateIntent(ctx, intent); err != nil {
		intent.State = StateConfirmed
		return intent, s.persistenceFailed(ctx, intent, chargeRef, fmt.Errorf("update intent: %w", err))
	}

	obs.ObserveSettlement("success")
	s.emit(ctx, events.TopicSettlementRecorded, intent.ID, map[string]any{
		"intentId":       intent.ID.String(),
		"chargeRef":      chargeRef,
		"ownerAmount":    split.OwnerAmount.Amount,
		"platformAmount": split.PlatformAmount.Amount,
	})
	topic := events.TopicRentalPaid
	if intent.SubjectKind == SubjectListing {
		topic = events.TopicListingPublished
	}
	s.emit(ctx, topic, intent.SubjectID, map[string]any{
		"subjectId": intent.SubjectID.String(),
		"chargeRef": chargeRef,
		"total":     intent.Quote.Total.Amount,
	})
	return intent, nil
}

// persistenceFailed keeps the intent in its pre-settlement state, queues a
// reconciliation retry keyed by the charge reference, and logs at error
// severity for operator follow-up. The charge itself is never lost: the
// intent row already carries the gateway reference durably.
func (s *Service) persistenceFailed(ctx context.Context, intent Intent, chargeRef string, cause error) error {
	obs.ObserveSettlement("persistence_failure")
	if s.Logger != nil {
		s.Logger.Error().
			Err(cause).
			Str("intent_id", intent.ID.String()).
			Str("charge_ref", chargeRef).
			Msg("settlement persistence failed after successful charge; queued for reconciliation")
	}
	if intent.State == StateDraft {
		// Free-tier intents have no gateway charge yet; promote to Confirmed so
		// the reconciliation retry finds a settleable intent.
		if err := intent.transition(StateConfirmed); err == nil {
			intent.ChargeRef = chargeRef
			_ = s.Store.UpdateIntent(ctx, intent)
		}
	}
	if s.Recon != nil {
		if err := s.Recon.EnqueueSettlement(ctx, intent.ID, chargeRef); err != nil && s.Logger != nil {
			s.Logger.Error().Err(err).
				Str("intent_id", intent.ID.String()).
				Msg("enqueue reconciliation task")
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, cause)
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.GatewayTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) emit(ctx context.Context, topic string, aggregate uuid.UUID, payload map[string]any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregate, payload); err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("emit domain event")
	}
}

func (s *Service) configured() error {
	if s == nil || s.Store == nil || s.Gateway == nil || s.Settlements == nil || s.Marker == nil {
		return errors.New("payment: service not configured")
	}
	return nil
}
