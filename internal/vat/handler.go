package vat

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes VAT register reads over JSON.
type Handler struct {
	logger *slog.Logger
	repo   Repository
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers VAT routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/vat/{register}/summary", h.summary)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromRequest(w, r)
	if !ok {
		return
	}
	register := Register(chi.URLParam(r, "register"))
	if register != RegisterSales && register != RegisterPurchases {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "register must be SALES or PURCHASES")
		return
	}
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "bad_request", "to must be YYYY-MM-DD")
		return
	}
	if to.IsZero() {
		to = time.Now()
	}
	summaries, err := h.repo.Summarize(r.Context(), tenantID, register, from, to)
	if err != nil {
		h.logger.Error("vat summary", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal", "summary failed")
		return
	}
	type row struct {
		Rate      decimal.Decimal `json:"rate"`
		TotalBase decimal.Decimal `json:"total_base"`
		TotalTax  decimal.Decimal `json:"total_tax"`
	}
	out := make([]row, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, row{Rate: s.Rate, TotalBase: s.TotalBase, TotalTax: s.TotalTax})
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"register": register, "items": out})
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}
