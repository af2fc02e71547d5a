package posting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/openitems"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// IdempotencyPort guards replayed posting requests keyed by the
// Idempotency-Key header.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the posting engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	idem     IdempotencyPort
	validate *validator.Validate
}

// NewHandler builds a Handler instance. idem may be nil, which disables
// the Idempotency-Key guard.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idem: idem, validate: validator.New()}
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/postings", h.post)
	r.Get("/journal", h.listJournal)
	r.Get("/journal/{id}", h.getJournalEntry)
}

type bindingRequest struct {
	Account     *int64           `json:"account"`
	Amount      *decimal.Decimal `json:"amount"`
	TaxBase     *decimal.Decimal `json:"tax_base"`
	TaxRate     *decimal.Decimal `json:"tax_rate"`
	Description string           `json:"description"`
}

type postRequest struct {
	FunctionCode   string                    `json:"function_code" validate:"required"`
	Bindings       map[string]bindingRequest `json:"bindings"`
	DocumentDate   time.Time                 `json:"document_date"`
	DocumentNumber string                    `json:"document_number"`
	Counterparty   *int64                    `json:"counterparty"`
	DueDate        time.Time                 `json:"due_date"`
	SourceRef      string                    `json:"source_ref"`
}

type postResponse struct {
	HeaderID       int64   `json:"header_id"`
	Protocol       int64   `json:"protocol"`
	HeaderIDs      []int64 `json:"header_ids"`
	OpenItemIDs    []int64 `json:"open_item_ids,omitempty"`
	VatMovementIDs []int64 `json:"vat_movement_ids,omitempty"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	var req postRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	input := PostingInput{
		TenantID:       tenantID,
		FunctionCode:   req.FunctionCode,
		Bindings:       Bindings{},
		DocumentDate:   req.DocumentDate,
		DocumentNumber: req.DocumentNumber,
		DueDate:        req.DueDate,
	}
	if req.Counterparty != nil {
		id := shared.AccountID(*req.Counterparty)
		input.Counterparty = &id
	}
	if req.SourceRef != "" {
		ref, err := uuid.Parse(req.SourceRef)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "bad_request", "source_ref must be a UUID")
			return
		}
		input.SourceRef = ref
	}
	for slot, b := range req.Bindings {
		binding := Binding{
			Amount:      b.Amount,
			TaxBase:     b.TaxBase,
			TaxRate:     b.TaxRate,
			Description: b.Description,
		}
		if b.Account != nil {
			id := shared.AccountID(*b.Account)
			binding.Account = &id
		}
		input.Bindings[slot] = binding
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "postings"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				shared.RespondError(w, http.StatusConflict, "duplicate_request", "request with this idempotency key already processed")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "internal", "posting failed")
			return
		}
	}

	result, err := h.service.Post(r.Context(), input)
	if err != nil {
		// Release the key so the caller can retry after fixing the request.
		if idemKey != "" && h.idem != nil {
			if delErr := h.idem.Delete(r.Context(), idemKey); delErr != nil {
				h.logger.Warn("idempotency release", slog.Any("error", delErr))
			}
		}
		h.respondPostingError(w, r, err)
		return
	}
	resp := postResponse{
		HeaderID: int64(result.HeaderID),
		Protocol: result.Protocol,
	}
	for _, id := range result.HeaderIDs {
		resp.HeaderIDs = append(resp.HeaderIDs, int64(id))
	}
	for _, id := range result.OpenItemIDs {
		resp.OpenItemIDs = append(resp.OpenItemIDs, int64(id))
	}
	for _, id := range result.VatMovementIDs {
		resp.VatMovementIDs = append(resp.VatMovementIDs, int64(id))
	}
	shared.RespondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) respondPostingError(w http.ResponseWriter, r *http.Request, err error) {
	var chainErr *ChainError
	switch {
	case errors.Is(err, catalog.ErrTemplateNotFound):
		shared.RespondError(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, ErrMissingBinding):
		shared.RespondError(w, http.StatusUnprocessableEntity, "missing_binding", err.Error())
	case errors.Is(err, ErrImbalancedPosting):
		shared.RespondError(w, http.StatusUnprocessableEntity, "imbalanced", err.Error())
	case errors.Is(err, ErrAccountNotPostable):
		shared.RespondError(w, http.StatusUnprocessableEntity, "account_not_postable", err.Error())
	case errors.Is(err, ErrNegativeAmount):
		shared.RespondError(w, http.StatusUnprocessableEntity, "negative_amount", err.Error())
	case errors.Is(err, openitems.ErrOpenItemNotOpen):
		shared.RespondError(w, http.StatusConflict, "open_item_not_open", err.Error())
	case errors.Is(err, ErrSourceAlreadyPosted):
		shared.RespondError(w, http.StatusConflict, "source_already_posted", err.Error())
	case errors.Is(err, ErrProtocolConflict):
		// Transient: the caller may retry the whole call from scratch.
		shared.RespondError(w, http.StatusConflict, "protocol_conflict", err.Error())
	case errors.As(err, &chainErr):
		shared.RespondError(w, http.StatusUnprocessableEntity, "chain_failed", err.Error())
	default:
		h.logger.Error("post failed", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "posting failed")
	}
}

type journalLineResponse struct {
	Account     int64           `json:"account"`
	Side        string          `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

type journalHeaderResponse struct {
	ID             int64                 `json:"id"`
	Protocol       int64                 `json:"protocol"`
	DocumentDate   time.Time             `json:"document_date"`
	DocumentNumber string                `json:"document_number,omitempty"`
	DocumentTotal  decimal.Decimal       `json:"document_total"`
	Counterparty   *int64                `json:"counterparty,omitempty"`
	FunctionCode   string                `json:"function_code"`
	Lines          []journalLineResponse `json:"lines,omitempty"`
}

func toHeaderResponse(h JournalEntryHeader) journalHeaderResponse {
	resp := journalHeaderResponse{
		ID:             int64(h.ID),
		Protocol:       h.Protocol,
		DocumentDate:   h.DocumentDate,
		DocumentNumber: h.DocumentNumber,
		DocumentTotal:  h.DocumentTotal,
		FunctionCode:   h.FunctionCode,
	}
	if h.Counterparty != nil {
		id := int64(*h.Counterparty)
		resp.Counterparty = &id
	}
	for _, line := range h.Lines {
		resp.Lines = append(resp.Lines, journalLineResponse{
			Account:     int64(line.Account),
			Side:        string(line.Side),
			Amount:      line.Amount,
			Description: line.Description,
		})
	}
	return resp
}

func (h *Handler) listJournal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	headers, pagination, err := h.service.ListJournal(r.Context(), tenantID, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.logger.Error("list journal", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "listing failed")
		return
	}
	items := make([]journalHeaderResponse, 0, len(headers))
	for _, header := range headers {
		items = append(items, toHeaderResponse(header))
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": pagination,
	})
}

func (h *Handler) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "invalid journal entry id")
		return
	}
	header, err := h.service.GetJournalEntry(r.Context(), tenantID, shared.HeaderID(id))
	if err != nil {
		if errors.Is(err, ErrHeaderNotFound) {
			shared.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("get journal entry", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}
	shared.RespondJSON(w, http.StatusOK, toHeaderResponse(header))
}
