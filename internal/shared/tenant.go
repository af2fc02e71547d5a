package shared

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// TenantFromRequest parses the tenant route parameter shared by all engine
// endpoints. It writes the error response itself on failure.
func TenantFromRequest(w http.ResponseWriter, r *http.Request) (TenantID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return 0, false
	}
	return TenantID(id), true
}
