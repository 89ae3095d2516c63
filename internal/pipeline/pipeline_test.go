package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/health"
	"github.com/user/bungee-go/internal/models"
	"github.com/user/bungee-go/internal/transformer"
)

func newTestPipeline(t *testing.T, routes []models.RouteConfig) (*Pipeline, *health.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := health.NewStore(zap.NewNop())
	store.Initialize(routes)
	p, err := New(routes, store, transformer.New(), NewForwarder(), zap.NewNop())
	require.NoError(t, err)
	return p, store
}

func doRequest(p *Pipeline, method, target string, body []byte) *httptest.ResponseRecorder {
	r := gin.New()
	r.NoRoute(p.Handler())
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Scenario 1 (spec.md §8): route and upstream each add an overlapping
// header; the upstream's value must win, and each layer's unique header
// must survive untouched.
func TestPipeline_HeaderOnionOverride(t *testing.T) {
	var gotHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	routes := []models.RouteConfig{
		{
			Path: "/api",
			Headers: &models.ModificationRules{
				Add: map[string]any{"x-shared": "route", "x-route": "route"},
			},
			Upstreams: []models.Upstream{
				{
					Target: upstream.URL,
					Weight: 1, Priority: 1,
					Headers: &models.ModificationRules{
						Add: map[string]any{"x-shared": "up", "x-up": "up"},
					},
				},
			},
		},
	}
	p, _ := newTestPipeline(t, routes)

	w := doRequest(p, http.MethodGet, "/api/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "up", gotHeaders.Get("X-Shared"))
	require.Equal(t, "route", gotHeaders.Get("X-Route"))
	require.Equal(t, "up", gotHeaders.Get("X-Up"))
}

// Scenario 3 (spec.md §8): the first-try upstream fails with a configured
// retryable status, so the pipeline must retry the second upstream, return
// its 200 response to the client, and flip the failing upstream unhealthy.
func TestPipeline_FailoverToSecondUpstream(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":"success"}`))
	}))
	defer working.Close()

	routes := []models.RouteConfig{
		{
			Path:     "/f",
			Failover: &models.FailoverConfig{Enabled: true, RetryableStatusCodes: []int{500}},
			Upstreams: []models.Upstream{
				{Target: failing.URL, Weight: 100, Priority: 1},
				{Target: working.URL, Weight: 0, Priority: 2},
			},
		},
	}
	p, store := newTestPipeline(t, routes)

	w := doRequest(p, http.MethodGet, "/f/x", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "success", body["result"])

	healthy := store.Healthy("/f")
	require.Len(t, healthy, 1)
	require.Equal(t, working.URL, healthy[0].Upstream.Target)
}

// Scenario 4 (spec.md §8): a route pathRewrite strips the route prefix and
// the anthropic-to-openai transformer rewrites the remaining path and
// renames the token-limit field.
func TestPipeline_TransformerPathRewriteAndFieldMapping(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	routes := []models.RouteConfig{
		{
			Path:        "/v1/anthropic-proxy",
			PathRewrite: []models.PathRewriteRule{{Pattern: "^/v1/anthropic-proxy", Replacement: "/v1"}},
			Transformer: &models.TransformerRef{Name: "anthropic-to-openai"},
			Upstreams: []models.Upstream{
				{Target: upstream.URL, Weight: 1, Priority: 1},
			},
		},
	}
	p, _ := newTestPipeline(t, routes)

	reqBody, _ := json.Marshal(map[string]any{
		"model":                "claude-3-opus",
		"max_tokens_to_sample": float64(1024),
		"messages":             []any{},
	})
	w := doRequest(p, http.MethodPost, "/v1/anthropic-proxy/messages", reqBody)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, float64(1024), gotBody["max_tokens"])
	_, hadOldKey := gotBody["max_tokens_to_sample"]
	require.False(t, hadOldKey)
}

// /health must be answered directly, bypassing the route table.
func TestPipeline_HealthEndpointShortCircuits(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	w := doRequest(p, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

// No matching route yields 404, not a panic or 503.
func TestPipeline_NoMatchingRouteReturns404(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	w := doRequest(p, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
