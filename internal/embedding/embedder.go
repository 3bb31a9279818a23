// Package embedding turns ingredient document text and query text into
// fixed-length vectors. Embedder implementations are deterministic: the
// same text always maps to the same vector, whichever batch it arrives in.
package embedding

import (
	"context"
	"fmt"

	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// Embedder maps texts to vectors of Dimension() elements, one per text and
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	// Name identifies the model; it is stored with the index so a query
	// can be checked against the embedder that built it.
	Name() string
}

// New builds the configured base embedder without batching or caching.
func New(cfg *conf.EmbeddingSettings, client *httpclient.Client, log logger.Logger) (Embedder, error) {
	switch cfg.Provider {
	case conf.ProviderHash, "":
		return NewHashEmbedder(cfg.Dimension), nil
	case conf.ProviderHTTP:
		return NewHTTPEmbedder(HTTPOptions{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
			RateLimit: cfg.RateLimit,
			Client:    client,
		}, log)
	default:
		return nil, errors.Newf("unknown embedding provider %q", cfg.Provider).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// checkShape verifies a provider answered with one vector of the right
// length per input text.
func checkShape(vectors [][]float32, n, dim int) error {
	if len(vectors) != n {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), n)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
