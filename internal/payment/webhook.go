package payment

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hangarshare/backend-hangar/internal/common"
)

// Webhook receives gateway callbacks, verifies their signature, guards against
// replays, and drives the intent lifecycle from the reported charge status.
type Webhook struct {
	Svc       *Service
	Gateway   Gateway
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle processes a single gateway notification. Settlement is idempotent per
// charge reference, so a webhook retried by the gateway after a slow response
// converges to the same state.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	result, err := h.Gateway.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s", common.Sha256Hex(string(body)))
		ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	if _, err := h.Svc.ConfirmByChargeRef(r.Context(), result.ChargeRef, result.Status, result.Amount); err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_APPLY_ERROR", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
