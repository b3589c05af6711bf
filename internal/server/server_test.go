package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/capture"
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

var testNow = time.Unix(1_700_000_000, 0)

func newTestServer(t *testing.T, mod func(*config.DaemonConfig)) (*Server, *engine.Engine) {
	t.Helper()
	clock := func() time.Time { return testNow }

	eng, err := engine.New(engine.Options{
		Path:  filepath.Join(t.TempDir(), "trail.db"),
		Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	cfg := config.DefaultConfig()
	cfg.Daemon.RateLimit = 0
	if mod != nil {
		mod(&cfg.Daemon)
	}

	policy, err := capture.NewPolicy(cfg.Capture)
	require.NoError(t, err)

	return New(eng, policy, cfg.Daemon, Options{Version: "test", Clock: clock}), eng
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func recordVia(t *testing.T, s *Server, url string, ts int64) history.VisitID {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{"url": url, "title": url, "visit_time": ts})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[recordVisitResponse](t, rec).ID
}

// --- Visits ---

func TestRecordAndGetVisit(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{
		"url":             "https://go.dev/doc/",
		"title":           "Documentation",
		"visit_time":      testNow.Unix() - 10,
		"transition_type": "typed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[recordVisitResponse](t, rec)
	assert.True(t, resp.Recorded)
	require.NotEmpty(t, resp.ID)

	rec = do(t, s, http.MethodGet, "/api/visits/"+string(resp.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[history.Visit](t, rec)
	assert.Equal(t, "https://go.dev/doc/", v.URL)
	assert.Equal(t, history.TransitionTyped, v.Transition)
	assert.Nil(t, v.Duration)
}

func TestRecordVisit_DefaultsTimeToNow(t *testing.T) {
	s, eng := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{"url": "https://a.example"})
	require.Equal(t, http.StatusCreated, rec.Code)

	v, err := eng.GetVisit(context.Background(), decodeBody[recordVisitResponse](t, rec).ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix(), v.VisitTime)
}

func TestRecordVisit_ValidationMapsTo400(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{"url": "example.com/no-scheme"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(history.InvalidURL), decodeBody[errorResponse](t, rec).Kind)

	rec = do(t, s, http.MethodPost, "/api/visits", map[string]any{
		"url": "https://a.example", "visit_time": testNow.Unix() + 3600,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(history.InvalidTimestamp), decodeBody[errorResponse](t, rec).Kind)

	rec = do(t, s, http.MethodPost, "/api/visits", map[string]any{"title": "missing url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/visits", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordVisit_CapturePolicy(t *testing.T) {
	s, eng := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{"url": "https://www.chase.com/login"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[recordVisitResponse](t, rec)
	assert.False(t, resp.Recorded)
	assert.Equal(t, string(capture.ReasonDeniedDomain), resp.Reason)
	assert.Equal(t, "finance", resp.Category)

	rec = do(t, s, http.MethodPost, "/api/visits", map[string]any{"url": "https://a.example", "incognito": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, string(capture.ReasonIncognito), decodeBody[recordVisitResponse](t, rec).Reason)

	n, err := eng.CountVisits(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetVisit_NotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/visits/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDuration(t *testing.T) {
	s, eng := newTestServer(t, nil)
	id := recordVia(t, s, "https://a.example", 100)

	rec := do(t, s, http.MethodPatch, "/api/visits/"+string(id)+"/duration", map[string]any{"seconds": 90})
	require.Equal(t, http.StatusNoContent, rec.Code)

	v, err := eng.GetVisit(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, v.Duration)
	assert.Equal(t, int64(90), *v.Duration)

	rec = do(t, s, http.MethodPatch, "/api/visits/"+string(id)+"/duration", map[string]any{"seconds": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPatch, "/api/visits/"+string(id)+"/duration", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPatch, "/api/visits/missing/duration", map[string]any{"seconds": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteVisit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	id := recordVia(t, s, "https://a.example", 100)

	rec := do(t, s, http.MethodDelete, "/api/visits/"+string(id), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/visits/"+string(id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Queries ---

func TestSearch(t *testing.T) {
	s, _ := newTestServer(t, nil)
	recordVia(t, s, "https://go.dev/a", 100)
	recordVia(t, s, "https://go.dev/b", 200)
	recordVia(t, s, "https://rust-lang.org", 300)

	rec := do(t, s, http.MethodGet, "/api/search?q=GO.DEV&since=150&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[visitsResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "https://go.dev/b", resp.Visits[0].URL)

	rec = do(t, s, http.MethodGet, "/api/search?since=300&until=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[visitsResponse](t, rec).Count)

	rec = do(t, s, http.MethodGet, "/api/search?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(history.InvalidLimit), decodeBody[errorResponse](t, rec).Kind)

	rec = do(t, s, http.MethodGet, "/api/search?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/search?match=fuzzy", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentAndPageVisits(t *testing.T) {
	s, _ := newTestServer(t, nil)
	recordVia(t, s, "https://a.example/", 100)
	recordVia(t, s, "https://a.example/", 200)
	recordVia(t, s, "https://b.example/", 300)

	rec := do(t, s, http.MethodGet, "/api/recent?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[visitsResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(300), resp.Visits[0].VisitTime)

	rec = do(t, s, http.MethodGet, "/api/pages/visits?url=https://a.example/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[visitsResponse](t, rec).Count)

	rec = do(t, s, http.MethodGet, "/api/pages/visits", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRankings(t *testing.T) {
	s, _ := newTestServer(t, nil)
	now := testNow.Unix()
	recordVia(t, s, "https://a.example", now-100)
	recordVia(t, s, "https://a.example", now-200)
	recordVia(t, s, "https://b.example", now-50)

	rec := do(t, s, http.MethodGet, "/api/top?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decodeBody[pagesResponse](t, rec)
	require.Len(t, top.Pages, 1)
	assert.Equal(t, "https://a.example", top.Pages[0].URL)
	assert.Equal(t, int64(2), top.Pages[0].VisitCount)

	rec = do(t, s, http.MethodGet, "/api/frecent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	frecent := decodeBody[pagesResponse](t, rec)
	require.Len(t, frecent.Pages, 2)
	assert.Equal(t, int64(200), frecent.Pages[0].FrecencyScore)

	rec = do(t, s, http.MethodGet, "/api/frecent?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCount(t *testing.T) {
	s, _ := newTestServer(t, nil)
	recordVia(t, s, "https://a.example/", 1)
	recordVia(t, s, "https://b.example/", 2)

	rec := do(t, s, http.MethodGet, "/api/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decodeBody[map[string]int64](t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/api/count?url=https://a.example/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeBody[map[string]int64](t, rec)["count"])
}

// --- Retention ---

func TestClear(t *testing.T) {
	s, _ := newTestServer(t, nil)
	recordVia(t, s, "https://a.example", 100)
	recordVia(t, s, "https://b.example", 200)
	recordVia(t, s, "https://c.example", 300)

	rec := do(t, s, http.MethodPost, "/api/clear", map[string]any{"older_than": 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decodeBody[map[string]int64](t, rec)["removed"])

	rec = do(t, s, http.MethodPost, "/api/clear", map[string]any{"all": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decodeBody[map[string]int64](t, rec)["removed"])

	rec = do(t, s, http.MethodPost, "/api/clear", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/clear", map[string]any{"all": true, "older_than": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Middleware ---

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(d *config.DaemonConfig) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/recent", nil).Code)
	rec := do(t, s, http.MethodGet, "/api/recent", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health is outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/health", nil).Code)
}

func TestAuthToken(t *testing.T) {
	s, _ := newTestServer(t, func(d *config.DaemonConfig) { d.AuthToken = "s3cret" })

	rec := do(t, s, http.MethodGet, "/api/recent", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/recent", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/recent", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/visits", nil)
	req.Header.Set("Origin", "chrome-extension://abcdefghijklmnop")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "chrome-extension://abcdefghijklmnop", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestSizeLimit(t *testing.T) {
	s, _ := newTestServer(t, func(d *config.DaemonConfig) { d.MaxRequestSize = 1024 })

	rec := do(t, s, http.MethodPost, "/api/visits", map[string]any{
		"url":   "https://a.example",
		"title": strings.Repeat("x", 4096),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, eng := newTestServer(t, nil)
	recordVia(t, s, "https://a.example", 1)

	rec := do(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.Equal(t, true, health["db"])
	assert.Equal(t, eng.Path(), health["db_path"])
	assert.Equal(t, 1.0, health["visits"])

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trail_http_requests_total{method="POST",route="/api/visits",status="201"} 1`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAddr(t *testing.T) {
	s, _ := newTestServer(t, func(d *config.DaemonConfig) {
		d.Host = "127.0.0.1"
		d.Port = 9000
	})
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}
