package openitems

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the open-items ledger over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers open item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/open-items", h.list)
	r.Get("/open-items/aging", h.aging)
	r.Get("/open-items/{id}", h.get)
	r.Post("/open-items/{id}/close", h.close)
}

type openItemResponse struct {
	ID           int64           `json:"id"`
	Counterparty int64           `json:"counterparty"`
	HeaderID     int64           `json:"header_id,omitempty"`
	RefItemID    *int64          `json:"ref_item_id,omitempty"`
	DueDate      time.Time       `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	State        string          `json:"state"`
	Kind         string          `json:"kind"`
}

func toItemResponse(item OpenItem) openItemResponse {
	resp := openItemResponse{
		ID:           int64(item.ID),
		Counterparty: int64(item.Counterparty),
		HeaderID:     int64(item.HeaderID),
		DueDate:      item.DueDate,
		Amount:       item.Amount,
		State:        string(item.State),
		Kind:         string(item.Kind),
	}
	if item.RefItemID != nil {
		id := int64(*item.RefItemID)
		resp.RefItemID = &id
	}
	return resp
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	filter := ListFilter{State: State(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("counterparty"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "bad_request", "invalid counterparty")
			return
		}
		filter.Counterparty = shared.AccountID(id)
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	items, pagination, err := h.service.ListOpenItems(r.Context(), tenantID, filter, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.logger.Error("list open items", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "listing failed")
		return
	}
	out := make([]openItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{
		"items":      out,
		"pagination": pagination,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "invalid open item id")
		return
	}
	item, err := h.service.GetOpenItem(r.Context(), tenantID, shared.OpenItemID(id))
	if err != nil {
		if errors.Is(err, ErrOpenItemNotFound) {
			shared.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("get open item", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}
	shared.RespondJSON(w, http.StatusOK, toItemResponse(item))
}

type closeRequest struct {
	Kind string `json:"kind" validate:"required"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "invalid open item id")
		return
	}
	var req closeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	item, err := h.service.CloseOpenItem(r.Context(), tenantID, shared.OpenItemID(id), MovementKind(req.Kind))
	if err != nil {
		switch {
		case errors.Is(err, ErrOpenItemNotFound):
			shared.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, ErrOpenItemNotOpen):
			shared.RespondError(w, http.StatusConflict, "open_item_not_open", err.Error())
		case errors.Is(err, ErrIncompatibleKind), errors.Is(err, ErrInvalidKind):
			shared.RespondError(w, http.StatusUnprocessableEntity, "invalid_kind", err.Error())
		default:
			h.logger.Error("close open item", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "internal", "close failed")
		}
		return
	}
	shared.RespondJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "bad_request", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	buckets, err := h.service.Aging(r.Context(), tenantID, asOf)
	if err != nil {
		h.logger.Error("aging", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "aging failed")
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"current":    buckets.Current,
		"bucket_30":  buckets.Bucket30,
		"bucket_60":  buckets.Bucket60,
		"bucket_90":  buckets.Bucket90,
		"bucket_120": buckets.Bucket120,
	})
}
