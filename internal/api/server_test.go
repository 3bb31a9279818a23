package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/tphakala/nutrigraph/internal/api/v1"
	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/embedding"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability"
	"github.com/tphakala/nutrigraph/internal/retrieval"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

func quiet() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

type fixture struct {
	server  *Server
	index   *vectorindex.Index
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := embedding.NewHashEmbedder(128)
	idx, err := vectorindex.Open(filepath.Join(t.TempDir(), "index.db"), "", vectorindex.Options{Embedder: e.Name(), Logger: quiet()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	names := []string{"corn tortillas", "kale raw", "butter salted"}
	vectors, err := e.Embed(t.Context(), names)
	require.NoError(t, err)
	entries := make([]vectorindex.Entry, len(names))
	for i, name := range names {
		entries[i] = vectorindex.Entry{
			ID: "ing_" + string(rune('0'+i)), Rank: i, Name: name, NameNormalized: name,
			Source: "usda_foundation", FdcID: "10" + string(rune('0'+i)), Vector: vectors[i],
		}
	}
	require.NoError(t, idx.Rebuild(t.Context(), entries))

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	svc := retrieval.New(e, idx, retrieval.Options{Metrics: m.Retrieval, Logger: quiet()})

	settings := &conf.Settings{}
	settings.Server.Listen = "127.0.0.1:0"
	srv, err := New(settings,
		WithLogger(quiet()),
		WithRetriever(svc),
		WithIndex(idx),
		WithMetrics(m),
		WithBuildInfo(buildinfo.NewContext("v0.3.0", "2026-10-01")),
	)
	require.NoError(t, err)
	return &fixture{server: srv, index: idx, metrics: m}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func TestConfig(t *testing.T) {
	t.Run("defaults validate", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})

	t.Run("from settings", func(t *testing.T) {
		settings := &conf.Settings{}
		settings.Server.Listen = "0.0.0.0:9000"
		settings.Debug = true
		cfg := ConfigFromSettings(settings)
		assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
		assert.True(t, cfg.Debug)
		assert.Equal(t, logger.LogLevelDebug, cfg.LogLevel)
	})

	t.Run("invalid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Listen = "9000"
		assert.Error(t, cfg.Validate())

		cfg = DefaultConfig()
		cfg.ReadTimeout = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestNewRequiresRetriever(t *testing.T) {
	_, err := New(&conf.Settings{}, WithLogger(quiet()))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Entries)
	assert.Equal(t, vectorindex.DefaultCollection, resp.Collection)
	assert.Equal(t, "v0.3.0", resp.Version)

	require.NoError(t, f.index.Close())
	rec = f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestRetrieveThroughMiddleware(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/ingredients/retrieve", `{"ingredients":["Corn Tortillas"],"top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))

	var resp v1.IngredientRetrievalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	matches := resp.Results["Corn Tortillas"]
	require.Len(t, matches, 2)
	assert.Equal(t, "corn tortillas", matches[0].Name)
	assert.InDelta(t, 1, matches[0].Score, 1e-6)
	require.NotNil(t, matches[0].FdcID)
	assert.Equal(t, int64(100), *matches[0].FdcID)
}

func TestIndexUnavailableIs503(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.index.Close())

	rec := f.do(http.MethodPost, "/api/v1/retrieve", `{"text":"kale"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp v1.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.CorrelationID)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/v1/retrieve", `{"text":"kale"}`)

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `nutrigraph_http_requests_total{method="POST",path="/api/v1/retrieve",status_code="200"} 1`)
	assert.Contains(t, body, "nutrigraph_retrieval_queries_total")
}

func TestStartAndShutdown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Start())
	addr := f.server.Addr()
	require.NotNil(t, addr)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.server.Shutdown())
	_, err = client.Get("http://" + addr.String() + "/health")
	assert.Error(t, err)
}
