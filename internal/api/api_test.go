package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/publish"
	"github.com/zulandar/presswork/internal/scheduler"
	"github.com/zulandar/presswork/internal/service"
	"github.com/zulandar/presswork/internal/worker"
	"gorm.io/gorm"
)

type fakeDispatcher struct{ ids []string }

func (d *fakeDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *fakeDispatcher) Shutdown(context.Context) error { return nil }

type fakePublisher struct{}

func (fakePublisher) RunPublishHook(context.Context, publish.Hook) publish.Report {
	return publish.Report{Attempted: 1, Succeeded: 1}
}

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) Run(context.Context, time.Time) (*scheduler.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.Report{WebsitesChecked: 2, JobsEnqueued: []string{"job-1"}}, nil
}

type fakePuller struct{ got []string }

func (f *fakePuller) Pull(_ context.Context, jobID string) (worker.PullResult, error) {
	f.got = append(f.got, jobID)
	return worker.PullResult{Processed: jobID != "", JobID: jobID}, nil
}

type testServer struct {
	db      *gorm.DB
	d       *fakeDispatcher
	trigger *fakeTrigger
	puller  *fakePuller
	handler http.Handler
}

func newTestServer(t *testing.T, perMin int) *testServer {
	t.Helper()
	db, err := pwdb.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, pwdb.AutoMigrate(db))

	require.NoError(t, db.Create(&models.Organization{
		ID: "org-1", Name: "Acme", Plan: "starter",
		APIKeyHash: service.HashAPIKey("key-1"), MaxPostsPerMonth: 10,
	}).Error)
	require.NoError(t, db.Create(&models.Website{
		ID: "site-w", OrganizationID: "org-1", Name: "W", Domain: "w.test", Active: true,
	}).Error)
	require.NoError(t, db.Create(&models.Keyword{
		ID: "kw-1", WebsiteID: "site-w", Text: "best coffee", Status: job.KeywordPending,
	}).Error)

	ts := &testServer{db: db, d: &fakeDispatcher{}, trigger: &fakeTrigger{}, puller: &fakePuller{}}
	svc, err := service.New(service.Opts{DB: db, Dispatcher: ts.d, Publisher: fakePublisher{}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts.handler = NewRouter(Deps{
		Service:            svc,
		Trigger:            ts.trigger,
		Puller:             ts.puller,
		TriggerSecret:      "trig",
		WorkerSecret:       "wrk",
		RateLimitPerMinute: perMin,
		AuthCacheTTL:       time.Minute,
		AuthCacheSize:      16,
		Logger:             zerolog.Nop(),
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func auth(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, 0)

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"missing", nil, "missing API key"},
		{"wrong scheme", map[string]string{"Authorization": "Basic key-1"}, "missing API key"},
		{"unknown key", auth("nope"), "invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodGet, "/api/v1/jobs/job-x", "", tt.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])
		})
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"websiteId":"site-w","keyword":"best coffee"}`, auth("key-1"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID, _ := decode(t, w)["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, []string{jobID}, ts.d.ids)

	w = ts.do(http.MethodGet, "/api/v1/jobs/"+jobID, "", auth("key-1"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, jobID, body["jobId"])
	assert.Equal(t, job.StatusQueued, body["status"])
}

func TestCreateJob_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, 0)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"websiteId":`, http.StatusBadRequest},
		{"missing keyword", `{"websiteId":"site-w"}`, http.StatusBadRequest},
		{"unknown website", `{"websiteId":"nope","keyword":"k"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/v1/jobs", tt.body, auth("key-1"))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestCreateJob_ActiveJobConflicts(t *testing.T) {
	ts := newTestServer(t, 0)
	body := `{"websiteId":"site-w","keyword":"best coffee"}`
	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/jobs", body, auth("key-1")).Code)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/v1/jobs", body, auth("key-1")).Code)
}

func TestCreateJob_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t, 0)
	require.NoError(t, ts.db.Model(&models.Organization{}).Where("id = ?", "org-1").
		Update("posts_generated_this_month", 10).Error)

	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"websiteId":"site-w","keyword":"k"}`, auth("key-1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRetryJob_QueuedConflicts(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/jobs", `{"websiteId":"site-w","keyword":"k"}`, auth("key-1"))
	jobID := decode(t, w)["jobId"].(string)

	for _, path := range []string{"/api/v1/jobs/" + jobID, "/api/v1/jobs/" + jobID + "/retry"} {
		w = ts.do(http.MethodPost, path, "", auth("key-1"))
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
}

func TestBulk(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/jobs/bulk", `{"websiteId":"site-w","count":3}`, auth("key-1"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 3, body["requested"])
	assert.EqualValues(t, 1, body["created"])
}

func TestPublishPost_NotFound(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/posts/nope/publish", "", auth("key-1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)
	for range 2 {
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/jobs/x", "", auth("key-1")).Code)
	}
	w := ts.do(http.MethodGet, "/api/v1/jobs/x", "", auth("key-1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", decode(t, w)["error"])
}

func TestRotateKey_RevokesCachedKey(t *testing.T) {
	ts := newTestServer(t, 0)
	// Warm the auth cache with the old key.
	require.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/jobs/x", "", auth("key-1")).Code)

	w := ts.do(http.MethodPost, "/api/v1/keys/rotate", "", auth("key-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newKey, _ := decode(t, w)["apiKey"].(string)
	require.NotEmpty(t, newKey)

	w = ts.do(http.MethodGet, "/api/v1/jobs/x", "", auth("key-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid API key", decode(t, w)["error"])

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/jobs/x", "", auth(newKey)).Code)
}

func TestCreateJob_ActiveBulkJobsConflict(t *testing.T) {
	ts := newTestServer(t, 0)
	w := ts.do(http.MethodPost, "/api/v1/jobs/bulk", `{"websiteId":"site-w","count":1}`, auth("key-1"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = ts.do(http.MethodPost, "/api/v1/jobs", `{"websiteId":"site-w","keyword":"other"}`, auth("key-1"))
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestTrigger(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(http.MethodPost, "/internal/trigger", "", map[string]string{TriggerSecretHeader: "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ts.trigger.calls)

	w = ts.do(http.MethodPost, "/internal/trigger", "", map[string]string{TriggerSecretHeader: "trig"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["websitesChecked"])

	ts.trigger.err = errors.New("db down")
	w = ts.do(http.MethodPost, "/internal/trigger", "", map[string]string{TriggerSecretHeader: "trig"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["error"])
}

func TestWorkerPull(t *testing.T) {
	ts := newTestServer(t, 0)

	w := ts.do(http.MethodPost, "/internal/worker", `{"jobId":"job-1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/internal/worker", `{"jobId":"job-1"}`, map[string]string{WorkerSecretHeader: "wrk"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["processed"])

	w = ts.do(http.MethodPost, "/internal/worker", "", map[string]string{WorkerSecretHeader: "wrk"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"job-1", ""}, ts.puller.got)
}

func TestRequireSecret_EmptyRejectsAll(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.handler = NewRouter(Deps{Trigger: ts.trigger, Logger: zerolog.Nop()})
	w := ts.do(http.MethodPost, "/internal/trigger", "", map[string]string{TriggerSecretHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Bearer ", ""},
		{"Token abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestStart_RequiresHandler(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
