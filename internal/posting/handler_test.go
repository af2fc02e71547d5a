package posting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	return newTestRouterWithIdem(svc, nil)
}

func newTestRouterWithIdem(svc *Service, idem IdempotencyPort) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/tenants/{tenantID}", NewHandler(nil, svc, idem).MountRoutes)
	return r
}

type fakeIdempotency struct {
	keys map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]string)}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, dup := f.keys[key]; dup {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

const purchaseBody = `{
	"function_code": "FATT_ACQ",
	"document_number": "INV-2026-042",
	"document_date": "2026-03-10T00:00:00Z",
	"due_date": "2026-04-10T00:00:00Z",
	"bindings": {
		"expense": {"account": 5000, "amount": "100"},
		"vat": {"tax_base": "100", "tax_rate": "22"},
		"supplier": {"account": 2100, "amount": "122"}
	}
}`

func TestHandlerPost(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(purchaseBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		HeaderID int64   `json:"header_id"`
		Protocol int64   `json:"protocol"`
		Headers  []int64 `json:"header_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Protocol)
	assert.Len(t, resp.Headers, 1)
}

func TestHandlerPostMissingBinding(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})
	router := newTestRouter(svc)

	body := `{"function_code": "FATT_ACQ", "bindings": {}}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp shared.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "missing_binding", resp.Code)
}

func TestHandlerPostUnknownFunction(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{}, fakeGraph{})
	router := newTestRouter(svc)

	body := `{"function_code": "NOPE"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPostBadTenant(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{}, fakeGraph{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/banana/postings", strings.NewReader(purchaseBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGetJournalEntry(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})
	result, err := svc.Post(context.Background(), purchaseInput())
	require.NoError(t, err)

	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/1/journal/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ID       int64 `json:"id"`
		Protocol int64 `json:"protocol"`
		Lines    []struct {
			Account int64  `json:"account"`
			Side    string `json:"side"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(result.HeaderID), resp.ID)
	assert.Len(t, resp.Lines, 3)

	req = httptest.NewRequest(http.MethodGet, "/api/tenants/1/journal/999", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPostIdempotencyKeyReplay(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})
	router := newTestRouterWithIdem(svc, newFakeIdempotency())

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(purchaseBody))
	req.Header.Set("Idempotency-Key", "order-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(purchaseBody))
	req.Header.Set("Idempotency-Key", "order-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp shared.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate_request", resp.Code)

	// Only the first request posted.
	headers, _, err := repo.ListHeaders(context.Background(), 1, shared.NewPagination(1, 20, 0))
	require.NoError(t, err)
	assert.Len(t, headers, 1)
}

func TestHandlerPostIdempotencyKeyReleasedOnFailure(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})
	router := newTestRouterWithIdem(svc, newFakeIdempotency())

	bad := `{"function_code": "FATT_ACQ", "bindings": {}}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(bad))
	req.Header.Set("Idempotency-Key", "order-43")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// A failed attempt must not burn the key.
	req = httptest.NewRequest(http.MethodPost, "/api/tenants/1/postings", strings.NewReader(purchaseBody))
	req.Header.Set("Idempotency-Key", "order-43")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
