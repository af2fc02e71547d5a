package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	integrityCalls int
	vatPayloads    []VatRefreshPayload
	err            error
}

func (f *fakeEnqueuer) EnqueueLedgerIntegrity(ctx context.Context) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.integrityCalls++
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault}, nil
}

func (f *fakeEnqueuer) EnqueueVatRefresh(ctx context.Context, payload VatRefreshPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.vatPayloads = append(f.vatPayloads, payload)
	return &asynq.TaskInfo{ID: "t2", Queue: QueueDefault}, nil
}

func newJobsRouter(enqueuer Enqueuer) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/jobs", NewHandler(nil, enqueuer, nil).MountRoutes)
	return r
}

func TestRunIntegrityEnqueues(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run/integrity", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, enqueuer.integrityCalls)
	assert.Contains(t, rec.Body.String(), `"task_id":"t1"`)
}

func TestRunVatRefreshForwardsPeriod(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run/vat-refresh",
		strings.NewReader(`{"year":2026,"month":3}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enqueuer.vatPayloads, 1)
	assert.Equal(t, VatRefreshPayload{Year: 2026, Month: 3}, enqueuer.vatPayloads[0])
}

func TestRunVatRefreshDefaultsToCurrentMonth(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run/vat-refresh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enqueuer.vatPayloads, 1)
	assert.Equal(t, VatRefreshPayload{}, enqueuer.vatPayloads[0])
}

func TestRunEndpointsUnavailableWithoutEnqueuer(t *testing.T) {
	router := newJobsRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/run/integrity", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
