// Package runtime holds the per-invocation state the subcommands share:
// loaded settings, build metadata, metrics and the constructors that turn
// settings into stores, indexes and embedders.
package runtime

import (
	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/datastore"
	"github.com/tphakala/nutrigraph/internal/embedding"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability"
	"github.com/tphakala/nutrigraph/internal/retrieval"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

// Context is populated by the root command before a subcommand runs
type Context struct {
	// Settings is filled in place once the config file is loaded, so
	// subcommands may keep the pointer from construction time
	Settings *conf.Settings
	Build    *buildinfo.Context
	Metrics  *observability.Metrics

	// ConfigFile overrides the config search path when set
	ConfigFile string

	client *httpclient.Client
}

// NewContext returns a Context with empty settings
func NewContext(build *buildinfo.Context) *Context {
	return &Context{
		Settings: &conf.Settings{},
		Build:    build,
	}
}

// Logger returns the module logger for a subcommand
func (c *Context) Logger(module string) logger.Logger {
	return logger.Global().Module(module)
}

// HTTPClient returns the shared client, created on first use. Its default
// timeout is disabled; callers bound requests with their context.
func (c *Context) HTTPClient() *httpclient.Client {
	if c.client == nil {
		c.client = httpclient.New(&httpclient.Config{DefaultTimeout: -1})
	}
	return c.client
}

// OpenStore opens the configured catalog database
func (c *Context) OpenStore() (datastore.Interface, error) {
	store, err := datastore.New(c.Settings, c.Logger("datastore"))
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}

// OpenIndex opens the configured vector index. A read-only index takes a
// shared lock so several query processes can run at once.
func (c *Context) OpenIndex(readOnly bool, embedderName string) (*vectorindex.Index, error) {
	return vectorindex.Open(c.Settings.IndexPath(), c.Settings.Index.Collection, vectorindex.Options{
		OpenTimeout: c.Settings.Index.OpenTimeout,
		ReadOnly:    readOnly,
		Embedder:    embedderName,
		Logger:      c.Logger("vectorindex"),
	})
}

// IndexEmbedder returns the configured embedder wrapped for bulk work:
// batched, concurrent and retried.
func (c *Context) IndexEmbedder() (embedding.Embedder, error) {
	cfg := &c.Settings.Embedding
	log := c.Logger("embedding")
	base, err := embedding.New(cfg, c.HTTPClient(), log)
	if err != nil {
		return nil, err
	}
	return embedding.NewBatcher(base, batcherOptions(cfg, cfg.Workers), log), nil
}

// QueryEmbedder returns the configured embedder for the query path. Queries
// are retried like index batches, on a single worker, and the retries stay
// inside retrieval.querytimeout because they share the request context.
// Results are cached when embedding.cachettl is set.
func (c *Context) QueryEmbedder() (embedding.Embedder, error) {
	cfg := &c.Settings.Embedding
	log := c.Logger("embedding")
	base, err := embedding.New(cfg, c.HTTPClient(), log)
	if err != nil {
		return nil, err
	}
	var e embedding.Embedder = embedding.NewBatcher(base, batcherOptions(cfg, 1), log)
	if cfg.CacheTTL > 0 {
		e = embedding.NewCachedEmbedder(e, cfg.CacheTTL)
	}
	return e, nil
}

func batcherOptions(cfg *conf.EmbeddingSettings, workers int) embedding.BatcherOptions {
	return embedding.BatcherOptions{
		BatchSize:     cfg.BatchSize,
		Workers:       workers,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: cfg.MaxRetryDelay,
	}
}

// RetrievalService wires the query path over an open index
func (c *Context) RetrievalService(embedder embedding.Embedder, index retrieval.Searcher) *retrieval.Service {
	r := c.Settings.Retrieval
	opts := retrieval.Options{
		DefaultK:     r.DefaultK,
		MaxK:         r.MaxK,
		QueryTimeout: r.QueryTimeout,
		KeywordBoost: r.KeywordBoost,
		Logger:       c.Logger("retrieval"),
	}
	if c.Metrics != nil {
		opts.Metrics = c.Metrics.Retrieval
	}
	return retrieval.New(embedder, index, opts)
}

// Close releases the shared HTTP client
func (c *Context) Close() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
