package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / math.Sqrt(na*nb)
}

// fakeEmbedder delegates to a HashEmbedder and can inject failures per call
type fakeEmbedder struct {
	*HashEmbedder
	calls atomic.Int32
	fail  func(call int, texts []string) error
}

func newFake(fail func(int, []string) error) *fakeEmbedder {
	return &fakeEmbedder{HashEmbedder: NewHashEmbedder(16), fail: fail}
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := int(f.calls.Add(1))
	if f.fail != nil {
		if err := f.fail(n, texts); err != nil {
			return nil, err
		}
	}
	return f.HashEmbedder.Embed(ctx, texts)
}

func TestHashEmbedder(t *testing.T) {
	t.Parallel()
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, "hash-384", e.Name())

	texts := []string{
		"corn tortillas",
		"Corn tortillas | energy_kcal: 218.0 | protein_g: 5.7",
		"Butter, salted | energy_kcal: 717.0",
		"",
	}
	vecs, err := e.Embed(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, norm, 1e-6, "vectors are unit length")

	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
	for _, v := range vecs[3] {
		assert.Zero(t, v, "empty text embeds to the zero vector")
	}

	again, err := e.Embed(t.Context(), []string{texts[1]})
	require.NoError(t, err)
	assert.Equal(t, vecs[1], again[0], "same text, same vector")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"kale", "raw", "energy", "kcal", "35.0"}, tokenize("Kale, raw. | energy_kcal: 35.0"))
	assert.Empty(t, tokenize(" | ... "))
}

func TestBatcherPreservesOrder(t *testing.T) {
	t.Parallel()
	var texts []string
	for i := range 23 {
		texts = append(texts, fmt.Sprintf("ingredient %d", i))
	}

	direct, err := NewHashEmbedder(16).Embed(t.Context(), texts)
	require.NoError(t, err)

	inner := newFake(nil)
	b := NewBatcher(inner, BatcherOptions{BatchSize: 4, Workers: 3}, quietLogger())
	got, err := b.Embed(t.Context(), texts)
	require.NoError(t, err)

	assert.Equal(t, direct, got, "batching never changes a vector")
	assert.Equal(t, int32(6), inner.calls.Load())
	assert.Equal(t, 16, b.Dimension())
}

func TestBatcherRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	inner := newFake(func(call int, _ []string) error {
		if call <= 2 {
			return fmt.Errorf("transient failure %d", call)
		}
		return nil
	})

	b := NewBatcher(inner, BatcherOptions{BatchSize: 10, Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond, MaxRetryDelay: 15 * time.Millisecond}, quietLogger())
	var mu sync.Mutex
	var waits []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}

	got, err := b.Embed(t.Context(), []string{"oats"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, waits, "doubling capped at the ceiling")
}

func TestBatcherSurfacesEmbeddingFailure(t *testing.T) {
	t.Parallel()

	t.Run("retries exhausted", func(t *testing.T) {
		inner := newFake(func(int, []string) error { return errors.NewStd("connection refused") })
		b := NewBatcher(inner, BatcherOptions{MaxRetries: 2}, quietLogger())
		b.sleep = func(context.Context, time.Duration) error { return nil }

		got, err := b.Embed(t.Context(), []string{"a", "b"})
		require.Error(t, err)
		assert.Nil(t, got, "no partial result")
		assert.True(t, errors.IsEmbeddingFailure(err))
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("permanent status is not retried", func(t *testing.T) {
		inner := newFake(func(int, []string) error {
			return &httpclient.StatusError{StatusCode: http.StatusBadRequest, Body: "bad model"}
		})
		b := NewBatcher(inner, BatcherOptions{MaxRetries: 5}, quietLogger())

		_, err := b.Embed(t.Context(), []string{"a"})
		assert.True(t, errors.IsEmbeddingFailure(err))
		assert.Equal(t, int32(1), inner.calls.Load())
	})

	t.Run("wrong shape", func(t *testing.T) {
		b := NewBatcher(shortEmbedder{}, BatcherOptions{MaxRetries: 0}, quietLogger())
		_, err := b.Embed(t.Context(), []string{"a", "b"})
		assert.True(t, errors.IsEmbeddingFailure(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		b := NewBatcher(newFake(nil), BatcherOptions{}, quietLogger())
		_, err := b.Embed(ctx, []string{"a"})
		require.Error(t, err)
		assert.False(t, errors.IsEmbeddingFailure(err))
		assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	})
}

// shortEmbedder returns one vector fewer than asked for
type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}
func (shortEmbedder) Dimension() int { return 4 }
func (shortEmbedder) Name() string   { return "short" }

func TestBackoff(t *testing.T) {
	b := NewBatcher(newFake(nil), BatcherOptions{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second}, quietLogger())
	assert.Equal(t, 100*time.Millisecond, b.backoff(1))
	assert.Equal(t, 200*time.Millisecond, b.backoff(2))
	assert.Equal(t, 800*time.Millisecond, b.backoff(4))
	assert.Equal(t, time.Second, b.backoff(10))
}

const testEndpoint = "http://embed.test/v1/embeddings"

func newMockedHTTPEmbedder(t *testing.T) (*HTTPEmbedder, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	e, err := NewHTTPEmbedder(HTTPOptions{
		Endpoint:  testEndpoint,
		Model:     "all-MiniLM-L6-v2",
		APIKey:    "secret",
		Dimension: 2,
		Client:    client,
	}, quietLogger())
	require.NoError(t, err)
	return e, transport
}

func TestHTTPEmbedder(t *testing.T) {
	e, transport := newMockedHTTPEmbedder(t)
	assert.Equal(t, "http:all-MiniLM-L6-v2", e.Name())

	transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		var body embeddingRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		assert.Equal(t, "all-MiniLM-L6-v2", body.Model)
		assert.Equal(t, []string{"oats", "rice"}, body.Input)

		// out of order on purpose
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	})

	vecs, err := e.Embed(t.Context(), []string{"oats", "rice"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPEmbedderRetriedByBatcher(t *testing.T) {
	e, transport := newMockedHTTPEmbedder(t)
	transport.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy").
			Then(httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
				"data": []map[string]any{{"index": 0, "embedding": []float32{0.6, 0.8}}},
			})))

	b := NewBatcher(e, BatcherOptions{MaxRetries: 2}, quietLogger())
	b.sleep = func(context.Context, time.Duration) error { return nil }

	vecs, err := b.Embed(t.Context(), []string{"kale"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.6, 0.8}}, vecs)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestHTTPEmbedderRejectsWrongDimension(t *testing.T) {
	e, transport := newMockedHTTPEmbedder(t)
	transport.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2, 3}}},
		}))

	_, err := e.Embed(t.Context(), []string{"kale"})
	assert.ErrorContains(t, err, "dimension 3")
}

func TestCachedEmbedder(t *testing.T) {
	inner := newFake(nil)
	c := NewCachedEmbedder(inner, time.Minute)

	first, err := c.Embed(t.Context(), []string{"oats", "rice"})
	require.NoError(t, err)
	second, err := c.Embed(t.Context(), []string{"rice", "barley", "oats"})
	require.NoError(t, err)

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, int32(2), inner.calls.Load(), "only barley needed a second call")
	assert.Equal(t, 3, c.Len())

	_, err = c.Embed(t.Context(), []string{"oats"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestNew(t *testing.T) {
	e, err := New(&conf.EmbeddingSettings{Provider: conf.ProviderHash, Dimension: 32}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimension())

	_, err = New(&conf.EmbeddingSettings{Provider: conf.ProviderHTTP, Dimension: 32}, nil, quietLogger())
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = New(&conf.EmbeddingSettings{Provider: "onnx"}, nil, quietLogger())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
