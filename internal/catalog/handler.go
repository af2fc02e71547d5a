package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/coa"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// Handler exposes template administration over JSON.
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

// MountRoutes registers catalog administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/functions", h.list)
	r.Post("/functions", h.create)
	r.Delete("/functions/{code}", h.deactivate)
}

type rowRequest struct {
	Slot        string `json:"slot" validate:"required"`
	AccountKind string `json:"account_kind" validate:"required,oneof=FIXED SEARCHABLE"`
	Account     int64  `json:"account"`
	Constraint  string `json:"constraint"`
	Side        string `json:"side" validate:"required,oneof=DEBIT CREDIT"`
	Description string `json:"description"`
	SubEditable bool   `json:"sub_editable"`
	VatBearing  bool   `json:"vat_bearing"`
	VatRegister string `json:"vat_register"`
}

type createTemplateRequest struct {
	Code     string       `json:"code" validate:"required"`
	Name     string       `json:"name" validate:"required"`
	Category string       `json:"category"`
	Class    string       `json:"class" validate:"required,oneof=PRIMARY SECONDARY FINANCIAL SYSTEM"`
	Flags    []string     `json:"flags"`
	Rows     []rowRequest `json:"rows"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	var req createTemplateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	tpl := FunctionTemplate{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Category: req.Category,
		Class:    TemplateClass(req.Class),
	}
	for _, f := range req.Flags {
		tpl.Flags = append(tpl.Flags, Flag(f))
	}
	for _, row := range req.Rows {
		account := RowAccount{Kind: RowAccountKind(row.AccountKind)}
		switch account.Kind {
		case RowAccountFixed:
			account.Fixed = shared.AccountID(row.Account)
		case RowAccountSearchable:
			account.Constraint = coa.Classification(row.Constraint)
		}
		tpl.Rows = append(tpl.Rows, FunctionRow{
			Slot:               row.Slot,
			Account:            account,
			Side:               Side(row.Side),
			Description:        row.Description,
			SubAccountEditable: row.SubEditable,
			VatBearing:         row.VatBearing,
			Register:           vat.Register(row.VatRegister),
		})
	}
	created, err := h.service.CreateTemplate(r.Context(), tpl)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateCode):
			shared.RespondError(w, http.StatusConflict, "duplicate_code", err.Error())
		case errors.Is(err, ErrDuplicateSlot), errors.Is(err, ErrInvalidRow):
			shared.RespondError(w, http.StatusUnprocessableEntity, "invalid_template", err.Error())
		default:
			h.logger.Error("create template", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "internal", "create failed")
		}
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":   int64(created.ID),
		"code": created.Code,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	items, pagination, err := h.service.ListTemplates(r.Context(), tenantID, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.logger.Error("list templates", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "listing failed")
		return
	}
	type templateResponse struct {
		ID       int64    `json:"id"`
		Code     string   `json:"code"`
		Name     string   `json:"name"`
		Category string   `json:"category,omitempty"`
		Class    string   `json:"class"`
		Flags    []string `json:"flags,omitempty"`
		Active   bool     `json:"active"`
	}
	out := make([]templateResponse, 0, len(items))
	for _, tpl := range items {
		resp := templateResponse{
			ID:       int64(tpl.ID),
			Code:     tpl.Code,
			Name:     tpl.Name,
			Category: tpl.Category,
			Class:    string(tpl.Class),
			Active:   tpl.Active,
		}
		for _, f := range tpl.Flags {
			resp.Flags = append(resp.Flags, string(f))
		}
		out = append(out, resp)
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{
		"items":      out,
		"pagination": pagination,
	})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.service.DeactivateTemplate(r.Context(), tenantID, code); err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			shared.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("deactivate template", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "deactivate failed")
		return
	}
	shared.RespondJSON(w, http.StatusNoContent, nil)
}
