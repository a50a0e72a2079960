package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binroute/internal/auth"
	"binroute/internal/config"
	"binroute/internal/model"
	"binroute/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return newTestServerWithStore(t, mem, mutate), mem
}

func newTestServerWithStore(t *testing.T, st store.Store, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RateRPS = 0
	cfg.SolverTimeBudget = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putFullBins(mem *store.Memory, n int) {
	for i := 0; i < n; i++ {
		mem.PutBin(model.Bin{
			ID:        fmt.Sprintf("bin_%02d", i),
			Location:  &model.Coordinate{Lat: 33.30 + 0.01*float64(i), Lng: 44.36 + 0.005*float64(i%3)},
			FillLevel: 95,
		})
	}
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) RunResponse {
	t.Helper()
	var out RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRunOptimizationPublishesRoute(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 5)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/run-optimization", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeRun(t, rec)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "route_1", out.RouteID)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, 5, out.TotalBins)
	assert.Greater(t, out.TotalDistanceKm, 0.0)

	rec = do(t, h, http.MethodGet, "/v1/routes/route_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc model.RouteDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Stops, 7)
	assert.Equal(t, 5, doc.TotalBins)
	assert.Equal(t, out.TotalDistanceKm, doc.TotalDistanceKm)
	for _, i := range []int{0, 6} {
		assert.Equal(t, "depot", doc.Stops[i].Type)
		assert.Equal(t, model.DepotBinID, doc.Stops[i].BinID)
	}
	seen := map[string]bool{}
	for _, st := range doc.Stops[1:6] {
		assert.Equal(t, "bin", st.Type)
		seen[st.BinID] = true
	}
	assert.Len(t, seen, 5)
}

func TestRunOptimizationAlias(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 2)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/optimize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeRun(t, rec).TotalBins)
}

func TestRunOptimizationNothingToCollect(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	rec := do(t, h, http.MethodPost, "/run-optimization", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeRun(t, rec)
	assert.Equal(t, "success", out.Status)
	assert.Zero(t, out.TotalBins)

	rec = do(t, h, http.MethodGet, "/v1/routes/route_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunOptimizationMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/run-optimization", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRunOptimizationRateLimited(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.RateRPS = 0.001
		c.RateBurst = 1
	})
	h := s.Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)
	rec := do(t, h, http.MethodPost, "/run-optimization", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRunOptimizationOverrides(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 5)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/run-optimization", `{"max_stops":2,"time_budget_ms":500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeRun(t, rec).TotalBins)

	// overrides apply to one run only
	rec = do(t, h, http.MethodPost, "/run-optimization", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decodeRun(t, rec).TotalBins)
	assert.Equal(t, 20, s.Planner.Policy.MaxStops)
}

func TestRunOptimizationRejectsBadOverrides(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	for _, body := range []string{
		`{"max_stops":0}`,
		`{"fill_threshold":150}`,
		`{"time_budget_ms":-1}`,
		`{"time_budget_ms":600000}`,
		`{"time_budget_ms":10000000000000}`,
		`{"fill_threshold":-1,"time_threshold":-1}`,
		`{not json`,
	} {
		rec := do(t, h, http.MethodPost, "/run-optimization", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

type brokenSource struct{ *store.Memory }

func (brokenSource) ListCandidates(ctx context.Context) ([]model.BinCandidate, error) {
	return nil, fmt.Errorf("connection refused")
}

func TestRunOptimizationSourceFailure(t *testing.T) {
	s := newTestServerWithStore(t, brokenSource{store.NewMemory()}, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/run-optimization", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decodeRun(t, rec)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "An internal error has occurred.", out.Message)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

type unreachableLocker struct{}

func (unreachableLocker) Lock(context.Context, string, time.Duration) (func(), error) {
	return nil, fmt.Errorf("acquire run lock: dial tcp 10.0.0.7:6379: connect: connection refused")
}

func TestRunOptimizationLockFailure(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 3)
	s.Locker = unreachableLocker{}

	rec := do(t, s.Handler(), http.MethodPost, "/run-optimization", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decodeRun(t, rec)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "An internal error has occurred.", out.Message)
	assert.NotContains(t, rec.Body.String(), "dial tcp")

	_, err := mem.GetRoute(context.Background(), "route_1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no run without the lock")
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.AuthMode = "hmac"
		c.AuthHMACSecret = "0123456789abcdef0123456789abcdef"
		c.CORSOrigins = "http://localhost:5173"
	})
	h := s.Handler()

	preflight := func(origin string) *httptest.ResponseRecorder {
		return do(t, h, http.MethodOptions, "/run-optimization", "",
			"Origin", origin,
			"Access-Control-Request-Method", http.MethodPost,
			"Access-Control-Request-Headers", "authorization,content-type")
	}
	rec := preflight("http://localhost:5173")
	assert.Less(t, rec.Code, 300, "preflight skips auth")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "authorization")

	rec = preflight("https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/healthz", "", "Origin", "http://localhost:5173")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunOptimizationAuth(t *testing.T) {
	const secret = "test-secret"
	s, mem := newTestServer(t, func(c *config.Config) {
		c.AuthMode = auth.ModeHMAC
		c.AuthHMACSecret = secret
	})
	putFullBins(mem, 3)
	h := s.Handler()
	v, err := auth.NewVerifier(auth.ModeHMAC, secret)
	require.NoError(t, err)
	token := func(role string) string {
		tok, err := v.Sign(auth.Principal{Subject: "u1", Role: role}, time.Minute)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/run-optimization", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/run-optimization", "", "Authorization", "Bearer junk").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/run-optimization", "", "Authorization", token(auth.RoleViewer)).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "", "Authorization", token(auth.RoleDispatcher)).Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/routes/route_1", "", "Authorization", token(auth.RoleViewer)).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/admin/plan-metrics", "", "Authorization", token(auth.RoleDispatcher)).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/admin/plan-metrics", "", "Authorization", token(auth.RoleAdmin)).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestRouteNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	rec := do(t, h, http.MethodGet, "/v1/routes/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var prob Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prob))
	assert.Equal(t, "Route not found", prob.Title)
	assert.Equal(t, "missing", prob.Detail)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/routes/missing/geojson", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/routes/", "").Code)
	rec = do(t, h, http.MethodDelete, "/v1/routes/route_1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prob))
	assert.Equal(t, "Method Not Allowed", prob.Title)
}

func TestRouteGeoJSON(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 4)
	h := s.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)

	rec := do(t, h, http.MethodGet, "/v1/routes/route_1/geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1+6)

	line, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, line, 6)
	depot := orb.Point{44.3668, 33.5731}
	assert.Equal(t, depot, line[0])
	assert.Equal(t, depot, line[5])
	assert.Equal(t, "route", fc.Features[0].Properties["kind"])

	for i, f := range fc.Features[1:] {
		_, ok := f.Geometry.(orb.Point)
		assert.True(t, ok)
		assert.EqualValues(t, i, f.Properties["order"])
	}
}

func TestGeoJSONDepotOnlyRoute(t *testing.T) {
	fc := RouteFeatures(model.Route{Stops: []model.Stop{{Kind: model.StopDepot, Location: model.Coordinate{Lat: 1, Lng: 2}}}})
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{2, 1}, fc.Features[0].Geometry)
}

func TestGraphQL(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 3)
	h := s.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)

	rec := do(t, h, http.MethodPost, "/graphql", `{"query":"query($id: ID!){ route(id: $id) { total_bins } }","variables":{"id":"route_1"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Data struct {
			Route model.RouteDoc `json:"route"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Data.Route.TotalBins)

	rec = do(t, h, http.MethodPost, "/graphql", `{"query":"{ planMetrics { routeId } }"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"routeId":"route_1"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/graphql", `{"query":"{ route(id: $id) { stops } }"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/graphql", `{"query":"{ route(id: $id) { stops } }","variables":{"id":"nope"}}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/graphql", `{"query":"{ bins }"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/graphql", "").Code)
}

func TestPlanMetrics(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 6)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/admin/plan-metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)
	rec = do(t, h, http.MethodGet, "/v1/admin/plan-metrics?routeId=route_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "route_1", out.Items[0]["routeId"])
	assert.EqualValues(t, 7, out.Items[0]["nodes"])
	assert.LessOrEqual(t, out.Items[0]["finalCost"], out.Items[0]["initialCost"])

	rec = do(t, h, http.MethodGet, "/v1/admin/plan-metrics?routeId=other", "")
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestWebhookDLQ(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/v1/admin/webhook-dlq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"pending":0}`, rec.Body.String())
}

func TestRunEnqueuesWebhook(t *testing.T) {
	s, mem := newTestServer(t, func(c *config.Config) {
		c.WebhookURLs = "http://127.0.0.1:1/hook, http://127.0.0.1:2/hook"
	})
	putFullBins(mem, 2)
	h := s.Handler()
	require.NotNil(t, s.Hooks)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)
	assert.Equal(t, 2, s.Hooks.Queue.Pending())

	rec := do(t, h, http.MethodGet, "/v1/admin/webhook-dlq", "")
	assert.JSONEq(t, `{"items":[],"pending":2}`, rec.Body.String())
}

type unreadyStore struct{ *store.Memory }

func (unreadyStore) Ping(ctx context.Context) error { return fmt.Errorf("db down") }

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","store":"memory"}`, rec.Body.String())

	s2 := newTestServerWithStore(t, unreadyStore{store.NewMemory()}, nil)
	rec = do(t, s2.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndDocs(t *testing.T) {
	s, mem := newTestServer(t, nil)
	putFullBins(mem, 2)
	h := s.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/run-optimization", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `optimization_runs_total{outcome="success"}`)
	assert.Contains(t, body, `route_stops{route_id="route_1"} 2`)
	assert.Contains(t, body, `path="/run-optimization"`)

	rec = do(t, h, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("openapi: 3")))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/docs", "").Code)
}

func TestDebugInfoHidesSecrets(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.WebhookSecret = "hook-secret-value"
		c.DatabaseURL = "postgres://user:pw@db/binroute"
	})
	rec := do(t, s.Handler(), http.MethodGet, "/debug/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out, "build")
	assert.Contains(t, out, "config")
	assert.NotContains(t, rec.Body.String(), "hook-secret-value")
	assert.NotContains(t, rec.Body.String(), "user:pw")
}

func TestPathLabel(t *testing.T) {
	for in, want := range map[string]string{
		"/run-optimization":            "/run-optimization",
		"/v1/routes/ws":                "/v1/routes/ws",
		"/v1/routes/":                  "/v1/routes/",
		"/v1/routes/route_1":           "/v1/routes/{id}",
		"/v1/routes/abc/geojson":       "/v1/routes/{id}/geojson",
		"/v1/routes/abc/events/stream": "/v1/routes/{id}/events/stream",
		"/v1/admin/plan-metrics":       "/v1/admin/plan-metrics",
	} {
		assert.Equal(t, want, pathLabel(in), in)
	}
}
