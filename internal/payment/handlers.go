package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hangarshare/backend-hangar/internal/common"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// SubjectQuoter prices the record an intent pays for and reports its owner.
// Rental and listing services each implement this for their subject kind.
type SubjectQuoter interface {
	QuoteSubject(ctx context.Context, kind SubjectKind, subjectID uuid.UUID) (pricing.Quote, uuid.UUID, error)
}

// Handler exposes the payment intent endpoints.
type Handler struct {
	Svc    *Service
	Quoter SubjectQuoter
}

type createIntentReq struct {
	SubjectKind string `json:"subjectKind" validate:"required,oneof=RENTAL LISTING"`
	SubjectID   string `json:"subjectId" validate:"required,uuid4"`
}

type confirmIntentReq struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,min=1,max=128"`
}

type quoteResp struct {
	Base          int64  `json:"base"`
	Tax           int64  `json:"tax"`
	BookingFee    int64  `json:"bookingFee"`
	ProcessingFee int64  `json:"processingFee"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

type intentResp struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	SubjectKind  string    `json:"subjectKind"`
	SubjectID    string    `json:"subjectId"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	FailureCode  string    `json:"failureCode,omitempty"`
	Quote        quoteResp `json:"quote"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toIntentResp(i Intent) intentResp {
	return intentResp{
		ID:           i.ID.String(),
		State:        string(i.State),
		SubjectKind:  string(i.SubjectKind),
		SubjectID:    i.SubjectID.String(),
		ClientSecret: i.ClientSecret,
		FailureCode:  i.FailureCode,
		Quote: quoteResp{
			Base:          i.Quote.Base.Amount,
			Tax:           i.Quote.Tax.Amount,
			BookingFee:    i.Quote.BookingFee.Amount,
			ProcessingFee: i.Quote.ProcessingFee.Amount,
			Total:         i.Quote.Total.Amount,
			Currency:      i.Quote.Total.Currency,
		},
		CreatedAt: i.CreatedAt,
	}
}

// Create prices the subject and opens a payment intent for the authenticated
// payer. Free quotes come back already settled.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Quoter == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	payerID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req createIntentReq
	if err := common.BindJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid subjectId", nil)
		return
	}
	kind := SubjectKind(strings.ToUpper(req.SubjectKind))

	quote, ownerID, err := h.Quoter.QuoteSubject(r.Context(), kind, subjectID)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "SUBJECT_NOT_FOUND", err.Error(), nil)
		return
	}
	intent, err := h.Svc.Create(r.Context(), NewIntent(kind, subjectID, ownerID, payerID, quote))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, toIntentResp(intent))
}

// Confirm submits the payer's payment method to the gateway.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	intentID, ok := h.ownIntentID(w, r)
	if !ok {
		return
	}
	var req confirmIntentReq
	if err := common.BindJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	intent, err := h.Svc.Confirm(r.Context(), intentID, req.PaymentMethod)
	if err != nil {
		if errors.Is(err, ErrPaymentDeclined) {
			common.JSON(w, http.StatusPaymentRequired, toIntentResp(intent))
			return
		}
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toIntentResp(intent))
}

// Cancel aborts an intent that has not been confirmed yet.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	intentID, ok := h.ownIntentID(w, r)
	if !ok {
		return
	}
	intent, err := h.Svc.Cancel(r.Context(), intentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toIntentResp(intent))
}

// Get returns the current state of the payer's intent.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	payerID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	intentID, err := uuid.Parse(chi.URLParam(r, "intentId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid intent id", nil)
		return
	}
	intent, err := h.Svc.Store.GetIntent(r.Context(), intentID)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "INTENT_NOT_FOUND", "intent not found", nil)
		return
	}
	if intent.PayerID != payerID {
		common.JSONError(w, http.StatusNotFound, "INTENT_NOT_FOUND", "intent not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, toIntentResp(intent))
}

// ownIntentID authenticates the request and checks the intent belongs to the
// caller before any state change.
func (h *Handler) ownIntentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	payerID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return uuid.Nil, false
	}
	intentID, err := uuid.Parse(chi.URLParam(r, "intentId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid intent id", nil)
		return uuid.Nil, false
	}
	intent, err := h.Svc.Store.GetIntent(r.Context(), intentID)
	if err != nil || intent.PayerID != payerID {
		common.JSONError(w, http.StatusNotFound, "INTENT_NOT_FOUND", "intent not found", nil)
		return uuid.Nil, false
	}
	return intentID, true
}

func authedUUID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, ErrInvalidAmount):
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), nil)
	case errors.Is(err, ErrCannotCancelConfirmed):
		common.JSONError(w, http.StatusConflict, "CANNOT_CANCEL", err.Error(), nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_ERROR", err.Error(), nil)
	}
}
