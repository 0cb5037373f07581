package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hangarshare/backend-hangar/internal/obs"
	"github.com/hangarshare/backend-hangar/internal/payment"
	"github.com/hangarshare/backend-hangar/internal/queue"
)

// TaskKind is the queue topic for settlement reconciliation tasks.
const TaskKind = "settlement:reconcile"

type taskPayload struct {
	IntentID  string `json:"intent_id"`
	ChargeRef string `json:"charge_ref"`
}

// Enqueuer schedules settlement retries on the Redis queue, deduplicated by
// charge reference so a flapping settlement path enqueues at most one task.
type Enqueuer struct {
	Q           queue.Enqueuer
	MaxAttempts int
	Delay       time.Duration
}

// EnqueueSettlement implements payment.ReconcileEnqueuer.
func (e Enqueuer) EnqueueSettlement(ctx context.Context, intentID uuid.UUID, chargeRef string) error {
	payload, err := json.Marshal(taskPayload{
		IntentID:  intentID.String(),
		ChargeRef: chargeRef,
	})
	if err != nil {
		return err
	}
	return e.Q.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: chargeRef,
		MaxAttempts:    e.MaxAttempts,
		Delay:          e.Delay,
	})
}

// Handler finishes interrupted settlements from the worker. Settlement is
// idempotent per charge reference, so redelivered tasks converge.
type Handler struct {
	Payments *payment.Service
	Logger   *zerolog.Logger
}

// Handle processes one reconciliation task. Returning an error re-queues the
// task with backoff until MaxAttempts moves it to the DLQ.
func (h Handler) Handle(ctx context.Context, t queue.Task) error {
	start := time.Now()
	var p taskPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		// Malformed payloads never become settleable; the retries burn down
		// until the task lands in the DLQ for operator review.
		obs.ObserveReconcile("malformed", float64(time.Since(start).Milliseconds()))
		return fmt.Errorf("decode reconcile payload: %w", err)
	}

	var err error
	switch {
	case p.IntentID != "":
		var id uuid.UUID
		id, err = uuid.Parse(p.IntentID)
		if err == nil {
			_, err = h.Payments.Settle(ctx, id)
		}
	case p.ChargeRef != "":
		_, err = h.Payments.SettleByChargeRef(ctx, p.ChargeRef)
	default:
		err = errors.New("reconcile: task carries neither intent id nor charge ref")
	}

	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		obs.ObserveReconcile("error", elapsed)
		if h.Logger != nil {
			h.Logger.Warn().
				Err(err).
				Str("intent_id", p.IntentID).
				Str("charge_ref", p.ChargeRef).
				Int("attempt", t.Attempt).
				Msg("settlement reconciliation attempt failed")
		}
		return err
	}
	obs.ObserveReconcile("success", elapsed)
	if h.Logger != nil {
		h.Logger.Info().
			Str("intent_id", p.IntentID).
			Str("charge_ref", p.ChargeRef).
			Msg("settlement reconciled")
	}
	return nil
}
