package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/analytics"
	"github.com/habitaq/lead-analytics/internal/config"
	"github.com/habitaq/lead-analytics/internal/middleware"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth:    config.AuthConfig{Enabled: false},
		Metrics: config.MetricsConfig{Enabled: false},
		Breaker: config.BreakerConfig{MaxFailures: 3, Cooldown: 30 * time.Second},
		Merge: config.MergeConfig{
			MaxAttempts: 5,
			DedupWindow: 2 * time.Minute,
			LeadTTL:     30 * 24 * time.Hour,
		},
		Rollup: config.RollupConfig{
			CounterTTL:       72 * time.Hour,
			InactivityWindow: 14 * 24 * time.Hour,
		},
		Reports: config.ReportsConfig{HighValueScore: 70},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Dependencies{
		Config: testConfig(),
		Logger: zap.NewNop(),
	})
}

func rawBatch(events ...analytics.RawEvent) *bytes.Buffer {
	body, _ := json.Marshal(events)
	return bytes.NewBuffer(body)
}

func leadEvent(idem string) analytics.RawEvent {
	return analytics.RawEvent{
		Event:     "phone_reveal",
		Timestamp: time.Now().Unix(),
		Properties: map[string]string{
			"entity_id":       "listing-1",
			"lister_id":       "agent-1",
			"lister_type":     "agent",
			"seeker_id":       "seeker-1",
			"idempotency_key": idem,
		},
	}
}

func TestIngestBatch(t *testing.T) {
	s := newTestServer(t)

	view := analytics.RawEvent{
		Event:     "listing_view",
		Timestamp: time.Now().Unix(),
		Properties: map[string]string{
			"entity_id":   "listing-1",
			"lister_id":   "agent-1",
			"lister_type": "agent",
		},
	}
	batch := rawBatch(leadEvent("evt-1"), view)

	req := httptest.NewRequest(http.MethodPost, "/ingest/events", batch)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Zero(t, resp.Rejected)
}

func TestIngestPartialRejection(t *testing.T) {
	s := newTestServer(t)

	bad := analytics.RawEvent{
		Event:      "listing_view",
		Timestamp:  time.Now().Unix(),
		Properties: map[string]string{"lister_id": "agent-1", "lister_type": "agent"},
	}
	batch := rawBatch(leadEvent("evt-1"), bad, leadEvent("evt-2"))

	req := httptest.NewRequest(http.MethodPost, "/ingest/events", batch)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	// One malformed event never blocks its neighbors.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
}

func TestIngestMalformedJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ingest/events", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRedeliveredBatchIsSafe(t *testing.T) {
	s := newTestServer(t)
	day := time.Now().UTC().Format("2006-01-02")

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ingest/events", rawBatch(leadEvent("evt-1")))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Roll up and query: three deliveries, one lead, one action.
	runBody := bytes.NewBufferString(fmt.Sprintf(`{"date":%q}`, day))
	req := httptest.NewRequest(http.MethodPost, "/rollup/run", runBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary analytics.RollupSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 1, summary.LeadsFlushed)

	url := "/reports/channels?tenant_id=agent-1&date_from=" + day + "&date_to=" + day
	req = httptest.NewRequest(http.MethodGet, url, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []analytics.ChannelStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Leads)
}

func TestRollupRunRejectsBadDate(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rollup/run", bytes.NewBufferString(`{"date":"01/03/2026"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportsRequireTenant(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/reports/channels", "/reports/funnel", "/reports/temporal", "/reports/efficiency",
	} {
		req := httptest.NewRequest(http.MethodGet, path+"?date_from=2026-03-01&date_to=2026-03-31", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
}

func TestAuthMiddlewareGuardsIngest(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		Enabled:      true,
		SharedSecret: "s3cret",
		SkipPaths:    []string{"/health"},
	}

	s := NewServer(Dependencies{Config: cfg, Logger: zap.NewNop()})
	auth := middleware.NewAuthMiddleware(cfg.Auth, zap.NewNop())
	handler := auth.Handler(s.Handler())

	req := httptest.NewRequest(http.MethodPost, "/ingest/events", rawBatch(leadEvent("evt-1")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/ingest/events", rawBatch(leadEvent("evt-1")))
	req.Header.Set(middleware.AuthHeaderName, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/ingest/events", rawBatch(leadEvent("evt-1")))
	req.Header.Set(middleware.AuthHeaderName, "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
