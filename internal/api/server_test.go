package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/dispatcher"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/id/uuid"
	"github.com/JakeFAU/metal-release-crawler/internal/session"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeTrigger struct {
	triggered []catalog.DistributorCode
	err       error
}

func (f *fakeTrigger) Trigger(code catalog.DistributorCode) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, code)
	return nil
}

func (f *fakeTrigger) Active() []catalog.DistributorCode { return f.triggered }

type failingReader struct{}

func (failingReader) Get(context.Context, string) (catalog.ParsingSession, error) {
	return catalog.ParsingSession{}, errors.New("db down")
}

func (failingReader) List(context.Context, catalog.SessionFilter) ([]catalog.ParsingSession, error) {
	return nil, errors.New("db down")
}

// seed creates one processed and one failed session.
func seed(t *testing.T) (*session.Manager, string, string) {
	t.Helper()
	ctx := context.Background()
	mgr := session.NewManager(memory.NewSessionStore(), uuid.New(), fakeClock{now: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}, nil)

	ok, err := mgr.Create(ctx, catalog.OsmoseProductions)
	require.NoError(t, err)
	require.NoError(t, mgr.BeginProcessing(ctx, ok))
	require.NoError(t, mgr.Complete(ctx, ok))

	bad, err := mgr.Create(ctx, catalog.Drakkar)
	require.NoError(t, err)
	require.NoError(t, mgr.BeginProcessing(ctx, bad))
	cause := &catalog.FetchError{Kind: catalog.FetchBlocked, URL: "https://drakkar.test/cd"}
	require.NoError(t, mgr.Fail(ctx, bad, catalog.StageCrawl, cause))
	return mgr, ok, bad
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestListFailedSessions ensures failed sessions expose stage and error kind.
func TestListFailedSessions(t *testing.T) {
	t.Parallel()

	mgr, _, bad := seed(t)
	s := NewServer(Config{}, mgr, nil, nil, nil)

	rec := serve(s, http.MethodGet, "/v1/sessions?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []sessionDTO `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	got := body.Sessions[0]
	assert.Equal(t, bad, got.ID)
	assert.Equal(t, "Drakkar", got.Distributor)
	assert.Equal(t, "crawl", got.FailedStage)
	assert.Equal(t, "FetchError.Blocked", got.ErrorKind)
	assert.NotEmpty(t, got.ErrorText)
}

func TestListSessionsFilters(t *testing.T) {
	t.Parallel()

	mgr, ok, _ := seed(t)
	s := NewServer(Config{}, mgr, nil, nil, nil)

	rec := serve(s, http.MethodGet, "/v1/sessions?distributor=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ok)

	for _, target := range []string{"/v1/sessions?status=bogus", "/v1/sessions?limit=0", "/v1/sessions?distributor=nope"} {
		rec := serve(s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	mgr, ok, _ := seed(t)
	s := NewServer(Config{}, mgr, nil, nil, nil)

	rec := serve(s, http.MethodGet, "/v1/sessions/"+ok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"Processed"`)

	rec = serve(s, http.MethodGet, "/v1/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/sessions/018f5b1c-8f3a-7c4e-9a55-3b1f6c2d9e01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionStoreErrors(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, failingReader{}, nil, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, serve(s, http.MethodGet, "/v1/sessions", nil).Code)
	assert.Equal(t, http.StatusInternalServerError,
		serve(s, http.MethodGet, "/v1/sessions/018f5b1c-8f3a-7c4e-9a55-3b1f6c2d9e01", nil).Code)

	s = NewServer(Config{}, nil, nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/v1/sessions", nil).Code)
}

func TestTriggerCrawl(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{}
	s := NewServer(Config{}, nil, trigger, nil, nil)

	rec := serve(s, http.MethodPost, "/v1/crawls/drakkar", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []catalog.DistributorCode{catalog.Drakkar}, trigger.triggered)

	rec = serve(s, http.MethodGet, "/v1/crawls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Drakkar")

	rec = serve(s, http.MethodPost, "/v1/crawls/unknown-shop", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCrawlErrors(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		fmt.Errorf("%w: Drakkar", dispatcher.ErrAlreadyRunning):     http.StatusConflict,
		fmt.Errorf("%w: Drakkar", distributor.ErrUnknownDistributor): http.StatusNotFound,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		s := NewServer(Config{}, nil, &fakeTrigger{err: err}, nil, nil)
		rec := serve(s, http.MethodPost, "/v1/crawls/2", nil)
		assert.Equal(t, want, rec.Code, err.Error())
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	mgr, _, _ := seed(t)
	s := NewServer(Config{APIKey: "secret"}, mgr, nil, nil, nil)

	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/sessions", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/sessions", http.Header{"X-Api-Key": {"secret"}}).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code, "probes stay open")
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	healthy := NewServer(Config{}, nil, nil, map[string]ReadinessCheck{
		"catalog": func(context.Context) error { return nil },
	}, nil)
	assert.Equal(t, http.StatusOK, serve(healthy, http.MethodGet, "/readyz", nil).Code)

	broken := NewServer(Config{}, nil, nil, map[string]ReadinessCheck{
		"catalog": func(context.Context) error { return errors.New("no connection") },
	}, nil)
	rec := serve(broken, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no connection")
}

func TestMetricsAndRequestID(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, nil, nil)
	rec := serve(s, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"req-1"}})
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
