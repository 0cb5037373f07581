package listing

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

// Handler exposes the listing HTTP endpoints.
type Handler struct {
	Svc *Service
}

type createReq struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Tier        string `json:"tier" validate:"required,oneof=BASIC FEATURED ENHANCED FREE_TRIAL"`
	HourlyRate  *int64 `json:"hourlyRate" validate:"omitempty,min=0"`
}

type listingResp struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tier        string     `json:"tier"`
	Status      string     `json:"status"`
	HourlyRate  *int64     `json:"hourlyRate,omitempty"`
	Currency    string     `json:"currency"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type createResp struct {
	Listing listingResp    `json:"listing"`
	Quote   map[string]any `json:"quote"`
}

func toListingResp(l Listing) listingResp {
	return listingResp{
		ID:          l.ID.String(),
		OwnerID:     l.OwnerID.String(),
		Title:       l.Title,
		Description: l.Description,
		Tier:        string(l.Tier),
		Status:      string(l.Status),
		HourlyRate:  l.HourlyRate,
		Currency:    l.Currency,
		PublishedAt: l.PublishedAt,
		CreatedAt:   l.CreatedAt,
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

// Create stores a listing for the authenticated owner and returns the tier
// quote the owner must pay to publish it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req createReq
	if err := common.BindJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	tier, err := pricing.ParseTier(req.Tier)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_TIER", err.Error(), nil)
		return
	}
	created, quote, err := h.Svc.Create(r.Context(), CreateParams{
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		Tier:        tier,
		HourlyRate:  req.HourlyRate,
	})
	if err != nil {
		if errors.Is(err, ErrTitleRequired) || errors.Is(err, ErrInvalidHourlyRate) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "LISTING_CREATE_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusCreated, createResp{Listing: toListingResp(created), Quote: quotePayload(quote)})
}

// Get returns a single listing by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "listingId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid listing id", nil)
		return
	}
	l, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "LISTING_NOT_FOUND", "listing not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, toListingResp(l))
}

// Mine lists the authenticated owner's listings.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authedUUID(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	listings, err := h.Svc.ListByOwner(r.Context(), ownerID, int32(perPage), int32((page-1)*perPage))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "LISTING_LIST_ERROR", err.Error(), nil)
		return
	}
	items := make([]listingResp, 0, len(listings))
	for _, l := range listings {
		items = append(items, toListingResp(l))
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
