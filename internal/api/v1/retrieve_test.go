package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/retrieval"
)

func ptr(v float64) *float64 { return &v }

// stubRetriever answers every query with the same matches
type stubRetriever struct {
	matches []retrieval.Match
	err     error

	lastK       int
	lastQueries []string
}

func (s *stubRetriever) Retrieve(_ context.Context, text string, k int) ([]retrieval.Match, error) {
	s.lastK = k
	s.lastQueries = []string{text}
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

func (s *stubRetriever) RetrieveMany(_ context.Context, queries []string, k int) (map[string][]retrieval.Match, error) {
	s.lastK = k
	s.lastQueries = queries
	if s.err != nil {
		return nil, s.err
	}
	out := map[string][]retrieval.Match{}
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			out[q] = s.matches
		}
	}
	return out, nil
}

func (s *stubRetriever) ClampK(k int) int {
	if k <= 0 {
		return 5
	}
	return min(k, 50)
}

var sampleMatches = []retrieval.Match{
	{
		ID: "ing_0", Name: "Tortillas, ready-to-bake or -fry, corn", NameNormalized: "tortillas ready to bake or fry corn",
		Source: "usda_sr_legacy", FdcID: "175037",
		EnergyKcal: ptr(218), ProteinG: ptr(5.7), CarbohydratesG: ptr(44.6), FatG: ptr(2.85),
		Similarity: 0.91,
	},
	{
		ID: "ing_7", Name: "Corn tortillas", NameNormalized: "corn tortillas",
		Source: "openfoodfacts", FdcID: "0012345678905",
		EnergyKcal: ptr(239), Similarity: 0.88,
	},
}

func newTestController(t *testing.T, r Retriever) *echo.Echo {
	t.Helper()
	e := echo.New()
	_, err := New(e, r, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	return e
}

func post(t *testing.T, e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewRequiresRetriever(t *testing.T) {
	_, err := New(echo.New(), nil, nil)
	assert.Error(t, err)
}

func TestRetrieve(t *testing.T) {
	t.Parallel()

	t.Run("returns ordered matches", func(t *testing.T) {
		stub := &stubRetriever{matches: sampleMatches}
		rec := post(t, newTestController(t, stub), "/api/v1/retrieve", `{"text":"  corn tortilla  ","k":2}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "corn tortilla", resp.Query)
		assert.Equal(t, 2, resp.K)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "ing_0", resp.Results[0].ID)
		assert.InDelta(t, 218, *resp.Results[0].EnergyKcal, 1e-9)
		assert.Nil(t, resp.Results[1].ProteinG)
		assert.Equal(t, 2, stub.lastK)
	})

	t.Run("missing k uses the default", func(t *testing.T) {
		stub := &stubRetriever{}
		rec := post(t, newTestController(t, stub), "/api/v1/retrieve", `{"text":"kale"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, stub.lastK)
		assert.JSONEq(t, `{"query":"kale","k":5,"results":[]}`, rec.Body.String())
	})

	for name, body := range map[string]string{
		"zero k uses the default":     `{"text":"kale","k":0}`,
		"negative k uses the default": `{"text":"kale","k":-3}`,
	} {
		t.Run(name, func(t *testing.T) {
			stub := &stubRetriever{}
			rec := post(t, newTestController(t, stub), "/api/v1/retrieve", body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 5, stub.lastK)
		})
	}

	t.Run("k above the ceiling is clamped", func(t *testing.T) {
		stub := &stubRetriever{}
		rec := post(t, newTestController(t, stub), "/api/v1/retrieve", `{"text":"kale","k":500}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 50, stub.lastK)
	})

	badRequests := map[string]string{
		"blank text":     `{"text":"   "}`,
		"malformed json": `{"text":`,
	}
	for name, body := range badRequests {
		t.Run(name, func(t *testing.T) {
			rec := post(t, newTestController(t, &stubRetriever{}), "/api/v1/retrieve", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestRetrieveErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"index unavailable", errors.IndexUnavailableError(errors.NewStd("index is closed"), "query"), http.StatusServiceUnavailable},
		{"embedding failure", errors.EmbeddingFailureError(errors.NewStd("connection refused"), "http:minilm", 3), http.StatusServiceUnavailable},
		{"validation", errors.ValidationError("query text is empty"), http.StatusBadRequest},
		{"anything else", errors.NewStd("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestController(t, &stubRetriever{err: tt.err})

			rec := post(t, e, "/api/v1/retrieve", `{"text":"kale"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)

			rec = post(t, e, "/api/v1/ingredients/retrieve", `{"ingredients":["kale"]}`)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestRetrieveIngredients(t *testing.T) {
	t.Parallel()

	t.Run("maps each query to its matches", func(t *testing.T) {
		stub := &stubRetriever{matches: sampleMatches}
		rec := post(t, newTestController(t, stub), "/api/v1/ingredients/retrieve",
			`{"ingredients":["corn tortilla"," kale ",""],"top_k":2}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, stub.lastK)

		var resp IngredientRetrievalResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 2)
		require.Contains(t, resp.Results, "kale")

		matches := resp.Results["corn tortilla"]
		require.Len(t, matches, 2)
		assert.Equal(t, "ing_0", matches[0].ID)
		assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
		require.NotNil(t, matches[0].FdcID)
		assert.Equal(t, int64(175037), *matches[0].FdcID)
		assert.Nil(t, matches[1].FdcID, "barcodes are not fdc ids")
	})

	t.Run("default top_k", func(t *testing.T) {
		stub := &stubRetriever{}
		rec := post(t, newTestController(t, stub), "/api/v1/ingredients/retrieve", `{"ingredients":["kale"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, DefaultTopK, stub.lastK)
	})

	t.Run("only blanks yields empty results", func(t *testing.T) {
		rec := post(t, newTestController(t, &stubRetriever{}), "/api/v1/ingredients/retrieve", `{"ingredients":["  ",""]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"results":{}}`, rec.Body.String())
	})

	badRequests := map[string]string{
		"empty list":     `{"ingredients":[]}`,
		"missing list":   `{}`,
		"top_k zero":     `{"ingredients":["kale"],"top_k":0}`,
		"top_k too big":  `{"ingredients":["kale"],"top_k":51}`,
		"malformed json": `{"ingredients":"kale"}`,
	}
	for name, body := range badRequests {
		t.Run(name, func(t *testing.T) {
			rec := post(t, newTestController(t, &stubRetriever{}), "/api/v1/ingredients/retrieve", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCorrelationIDFollowsRequestID(t *testing.T) {
	e := newTestController(t, &stubRetriever{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", strings.NewReader(`{"text":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	rec.Header().Set(echo.HeaderXRequestID, "req-42")
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "req-42", decodeError(t, rec).CorrelationID)
}
