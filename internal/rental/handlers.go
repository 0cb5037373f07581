package rental

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hangarshare/backend-hangar/internal/common"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// Handler exposes the rental HTTP endpoints.
type Handler struct {
	Svc *Service
}

type quoteReq struct {
	ListingID string `json:"listingId" validate:"required,uuid4"`
	Hours     int64  `json:"hours" validate:"required,min=1,max=720"`
}

type createReq struct {
	ListingID string `json:"listingId" validate:"required,uuid4"`
	Hours     int64  `json:"hours" validate:"required,min=1,max=720"`
}

type rentalResp struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listingId"`
	RenterID   string    `json:"renterId"`
	Hours      int64     `json:"hours"`
	HourlyRate int64     `json:"hourlyRate"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toRentalResp(r Rental) rentalResp {
	return rentalResp{
		ID:         r.ID.String(),
		ListingID:  r.ListingID.String(),
		RenterID:   r.RenterID.String(),
		Hours:      r.Hours,
		HourlyRate: r.HourlyRate,
		Currency:   r.Currency,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
	}
}

func quotePayload(q pricing.Quote) map[string]any {
	return map[string]any{
		"base":          q.Base.Amount,
		"tax":           q.Tax.Amount,
		"bookingFee":    q.BookingFee.Amount,
		"processingFee": q.ProcessingFee.Amount,
		"total":         q.Total.Amount,
		"currency":      q.Total.Currency,
	}
}

// Quote prices a prospective booking without creating anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if err := common.BindJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid listingId", nil)
		return
	}
	quote, err := h.Svc.QuoteListing(r.Context(), listingID, req.Hours)
	if err != nil {
		writeRentalError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"quote": quotePayload(quote)})
}

// Create books a listing for the authenticated renter.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	renterID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req createReq
	if err := common.BindJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid listingId", nil)
		return
	}
	created, quote, err := h.Svc.Create(r.Context(), listingID, renterID, req.Hours)
	if err != nil {
		writeRentalError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"rental": toRentalResp(created),
		"quote":  quotePayload(quote),
	})
}

// Get returns the renter's booking by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	renterID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "rentalId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rental id", nil)
		return
	}
	rent, err := h.Svc.Get(r.Context(), id)
	if err != nil || (rent.RenterID != renterID && rent.OwnerID != renterID) {
		common.JSONError(w, http.StatusNotFound, "RENTAL_NOT_FOUND", "rental not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, toRentalResp(rent))
}

// Mine lists the authenticated renter's bookings.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	renterID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	rentals, err := h.Svc.ListByRenter(r.Context(), renterID, int32(perPage), int32((page-1)*perPage))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "RENTAL_LIST_ERROR", err.Error(), nil)
		return
	}
	items := make([]rentalResp, 0, len(rentals))
	for _, rent := range rentals {
		items = append(items, toRentalResp(rent))
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": items, "page": page, "perPage": perPage})
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

func writeRentalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrListingNotRentable), errors.Is(err, ErrListingUnpublished),
		errors.Is(err, ErrOwnBooking), errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrInvalidRate):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusNotFound, "LISTING_NOT_FOUND", err.Error(), nil)
	}
}
