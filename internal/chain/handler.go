package chain

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes linked-function administration over JSON.
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

// MountRoutes registers linked-function routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/functions/{code}/links", h.list)
	r.Post("/functions/{code}/links", h.create)
	r.Delete("/links/{id}", h.remove)
}

type mappingRequest struct {
	Origin     string `json:"origin" validate:"required"`
	DestEntity string `json:"dest_entity" validate:"required,oneof=BINDING OPEN_ITEM"`
	DestField  string `json:"dest_field" validate:"required"`
}

type createLinkRequest struct {
	SecondaryCode string           `json:"secondary_code" validate:"required"`
	Order         int              `json:"order" validate:"required,min=1"`
	Mappings      []mappingRequest `json:"mappings"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	var req createLinkRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	edge := Edge{
		TenantID:      tenantID,
		PrimaryCode:   chi.URLParam(r, "code"),
		SecondaryCode: req.SecondaryCode,
		Order:         req.Order,
	}
	for _, m := range req.Mappings {
		edge.Mappings = append(edge.Mappings, ParameterMapping{
			Origin:     m.Origin,
			DestEntity: DestEntity(m.DestEntity),
			DestField:  m.DestField,
		})
	}
	created, err := h.service.LinkFunctions(r.Context(), edge)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfLoop), errors.Is(err, ErrInvalidMapping):
			shared.RespondError(w, http.StatusUnprocessableEntity, "invalid_link", err.Error())
		case errors.Is(err, ErrDuplicateEdge), errors.Is(err, ErrDuplicateOrder):
			shared.RespondError(w, http.StatusConflict, "duplicate_link", err.Error())
		default:
			h.logger.Error("create link", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "internal", "link failed")
		}
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{"id": int64(created.ID)})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	edges, err := h.service.GetSecondaries(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.logger.Error("list links", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "listing failed")
		return
	}
	type mappingResponse struct {
		Origin     string `json:"origin"`
		DestEntity string `json:"dest_entity"`
		DestField  string `json:"dest_field"`
	}
	type edgeResponse struct {
		ID            int64             `json:"id"`
		SecondaryCode string            `json:"secondary_code"`
		Order         int               `json:"order"`
		Mappings      []mappingResponse `json:"mappings,omitempty"`
	}
	out := make([]edgeResponse, 0, len(edges))
	for _, e := range edges {
		resp := edgeResponse{ID: int64(e.ID), SecondaryCode: e.SecondaryCode, Order: e.Order}
		for _, m := range e.Mappings {
			resp.Mappings = append(resp.Mappings, mappingResponse{
				Origin:     m.Origin,
				DestEntity: string(m.DestEntity),
				DestField:  m.DestField,
			})
		}
		out = append(out, resp)
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "invalid link id")
		return
	}
	if err := h.service.UnlinkFunctions(r.Context(), tenantID, shared.EdgeID(id)); err != nil {
		if errors.Is(err, ErrEdgeNotFound) {
			shared.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error("remove link", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "unlink failed")
		return
	}
	shared.RespondJSON(w, http.StatusNoContent, nil)
}
