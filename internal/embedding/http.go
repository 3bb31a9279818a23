package embedding

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// HTTPOptions configures a remote OpenAI-compatible embeddings endpoint
type HTTPOptions struct {
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
	RateLimit float64 // requests per second, 0 is unlimited
	Client    *httpclient.Client
}

// HTTPEmbedder calls a remote embeddings endpoint. It does not retry; wrap
// it in a Batcher for that.
type HTTPEmbedder struct {
	opts    HTTPOptions
	client  *httpclient.Client
	limiter *rate.Limiter
	log     logger.Logger
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewHTTPEmbedder validates opts and returns a remote embedder
func NewHTTPEmbedder(opts HTTPOptions, log logger.Logger) (*HTTPEmbedder, error) {
	if opts.Endpoint == "" {
		return nil, errors.ValidationError("embedding endpoint is required for the http provider")
	}
	if opts.Dimension <= 0 {
		return nil, errors.ValidationError("embedding dimension must be positive")
	}
	if opts.Client == nil {
		opts.Client = httpclient.New(nil)
	}
	if log == nil {
		log = logger.Global().Module("embedding")
	}

	e := &HTTPEmbedder{
		opts:   opts,
		client: opts.Client,
		log:    log.With(logger.String("model", opts.Model)),
	}
	if opts.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return e, nil
}

func (e *HTTPEmbedder) Dimension() int { return e.opts.Dimension }

func (e *HTTPEmbedder) Name() string { return "http:" + e.opts.Model }

// Embed sends all texts in one request. Vectors are placed by the
// response's index field, not by arrival order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var header http.Header
	if e.opts.APIKey != "" {
		header = http.Header{"Authorization": {"Bearer " + e.opts.APIKey}}
	}

	var resp embeddingResponse
	if err := e.client.PostJSON(ctx, e.opts.Endpoint, header, embeddingRequest{Model: e.opts.Model, Input: texts}, &resp); err != nil {
		e.log.Debug("embedding request failed", logger.Int("texts", len(texts)), logger.Error(err))
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	if err := checkShape(out, len(texts), e.opts.Dimension); err != nil {
		return nil, err
	}
	return out, nil
}
