// Package download fetches the raw datasets into the raw data directory.
// Transfers resume from a .part file with an HTTP Range request, and zip
// archives are extracted into the directory the clean step reads.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/ingest"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
	"github.com/tphakala/nutrigraph/internal/privacy"
)

const (
	partSuffix = ".part"

	// DefaultProgressInterval is how often a running transfer logs progress
	DefaultProgressInterval = 5 * time.Second

	copyBufferSize = 256 * 1024
)

// Item is one file to fetch
type Item struct {
	Source ingest.SourceID
	URL    string
	// Dest is the downloaded file
	Dest string
	// ExtractDir, when set, receives the contents of the zip at Dest
	ExtractDir string
}

// Result reports what Fetch did for one item
type Result struct {
	Item    Item
	Skipped bool
	Resumed bool
	Bytes   int64
}

// Plan lists the three datasets with their destinations under the raw dir
func Plan(settings *conf.Settings) []Item {
	raw := settings.Data.RawDir
	return []Item{
		{
			Source:     ingest.SourceFoundation,
			URL:        settings.Download.FoundationURL,
			Dest:       filepath.Join(raw, archiveName(settings.Download.FoundationURL, "foundation_food.zip")),
			ExtractDir: ingest.SourceLocation(raw, ingest.SourceFoundation),
		},
		{
			Source:     ingest.SourceSRLegacy,
			URL:        settings.Download.SRLegacyURL,
			Dest:       filepath.Join(raw, archiveName(settings.Download.SRLegacyURL, "sr_legacy.zip")),
			ExtractDir: ingest.SourceLocation(raw, ingest.SourceSRLegacy),
		},
		{
			Source: ingest.SourceOpenFoodFacts,
			URL:    settings.Download.OpenFoodFactsURL,
			Dest:   ingest.SourceLocation(raw, ingest.SourceOpenFoodFacts),
		},
	}
}

func archiveName(rawURL, fallback string) string {
	name := rawURL
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = filepath.Base(name)
	if name == "." || name == "/" || !strings.HasSuffix(strings.ToLower(name), ".zip") {
		return fallback
	}
	return name
}

// Options tunes a Downloader
type Options struct {
	// Timeout bounds each file; 0 means no limit
	Timeout          time.Duration
	ProgressInterval time.Duration
	Metrics          *metrics.PipelineMetrics
	Logger           logger.Logger
}

// Downloader fetches Items over HTTP
type Downloader struct {
	client *httpclient.Client
	opts   Options
	log    logger.Logger
}

// New returns a Downloader. The client should have its default timeout
// disabled, since Options.Timeout bounds each transfer.
func New(client *httpclient.Client, opts Options) *Downloader {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("download")
	}
	return &Downloader{client: client, opts: opts, log: opts.Logger}
}

// Run fetches every item in order and stops at the first failure
func (d *Downloader) Run(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		start := time.Now()
		res, err := d.Fetch(ctx, item)
		d.opts.Metrics.ObserveStage(metrics.StageDownload, time.Since(start), err)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Fetch downloads one item unless it is already present, then extracts it
// when it is an archive.
func (d *Downloader) Fetch(ctx context.Context, item Item) (Result, error) {
	res := Result{Item: item}
	log := d.log.With(logger.String("source", string(item.Source)))

	if item.URL == "" {
		return res, errors.Newf("no download url configured for %s", item.Source).
			Component("download").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if present(item) {
		log.Info("dataset already present, skipping", logger.String("path", item.Dest))
		res.Skipped = true
		return res, nil
	}

	if _, err := os.Stat(item.Dest); err != nil {
		if d.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
		}
		resumed, n, err := d.transfer(ctx, item, log)
		if err != nil {
			return res, err
		}
		res.Resumed = resumed
		res.Bytes = n
	}

	if item.ExtractDir != "" {
		files, err := Extract(item.Dest, item.ExtractDir)
		if err != nil {
			return res, err
		}
		log.Info("archive extracted",
			logger.String("dir", item.ExtractDir),
			logger.Int("files", files))
	}
	return res, nil
}

// present reports whether an item needs no work: the file exists and, for
// archives, the extraction directory already holds json files.
func present(item Item) bool {
	if item.ExtractDir != "" {
		files, err := ingest.DiscoverJSON(item.ExtractDir)
		return err == nil && len(files) > 0
	}
	_, err := os.Stat(item.Dest)
	return err == nil
}

// transfer streams item.URL into Dest via a .part file, resuming from the
// bytes already on disk when the server honours Range.
func (d *Downloader) transfer(ctx context.Context, item Item, log logger.Logger) (resumed bool, written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(item.Dest), 0o755); err != nil {
		return false, 0, errors.New(err).
			Component("download").
			Category(errors.CategoryFileIO).
			FileContext(item.Dest).
			Build()
	}

	part := item.Dest + partSuffix
	var offset int64
	if info, statErr := os.Stat(part); statErr == nil {
		offset = info.Size()
	}

	header := http.Header{}
	if offset > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Get(ctx, item.URL, header)
	if err != nil {
		return false, 0, downloadError(ctx, err, item)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debug("failed to close response body", logger.Error(cerr))
		}
	}()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
		resumed = true
	case http.StatusOK:
		// server ignored the range, start over
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// the part file already holds the whole object
		if offset > 0 {
			return true, 0, finish(part, item.Dest)
		}
		fallthrough
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, 0, downloadError(ctx, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(body)}, item)
	}

	total := expectedSize(resp, offset)
	log.Info("downloading dataset",
		logger.String("url", privacy.AnonymizeURL(item.URL)),
		logger.String("dest", item.Dest),
		logger.Int64("offset", offset),
		logger.Int64("total_bytes", total))

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return resumed, 0, errors.New(err).
			Component("download").
			Category(errors.CategoryFileIO).
			FileContext(part).
			Context("offset", offset).
			Build()
	}

	pw := &progressWriter{
		log:      log,
		interval: d.opts.ProgressInterval,
		done:     offset,
		total:    total,
		last:     time.Now(),
	}
	written, err = io.CopyBuffer(io.MultiWriter(f, pw), resp.Body, make([]byte, copyBufferSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// keep the part file for the next attempt
		return resumed, written, downloadError(ctx, err, item)
	}

	if total > 0 && offset+written != total {
		return resumed, written, downloadError(ctx,
			fmt.Errorf("received %d of %d bytes", offset+written, total), item)
	}

	log.Info("download complete",
		logger.String("dest", item.Dest),
		logger.Int64("bytes", offset+written),
		logger.Bool("resumed", resumed))
	return resumed, written, finish(part, item.Dest)
}

func finish(part, dest string) error {
	if err := os.Rename(part, dest); err != nil {
		return errors.New(err).
			Component("download").
			Category(errors.CategoryFileIO).
			FileContext(dest).
			Build()
	}
	return nil
}

// expectedSize returns the full object size, or -1 when the server did not
// say
func expectedSize(resp *http.Response, offset int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				return n
			}
		}
	}
	if resp.ContentLength >= 0 {
		if resp.StatusCode == http.StatusPartialContent {
			return offset + resp.ContentLength
		}
		return resp.ContentLength
	}
	return -1
}

func downloadError(ctx context.Context, err error, item Item) error {
	category := errors.CategoryDownload
	if ctx.Err() != nil {
		category = errors.CategoryCancellation
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
	}
	return errors.New(privacy.WrapError(err)).
		Component("download").
		Category(category).
		Context("source", string(item.Source)).
		Context("url", privacy.AnonymizeURL(item.URL)).
		Build()
}

// progressWriter logs transfer progress at most once per interval
type progressWriter struct {
	log      logger.Logger
	interval time.Duration
	done     int64
	total    int64
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if now := time.Now(); now.Sub(p.last) >= p.interval {
		p.last = now
		fields := []logger.Field{logger.Int64("bytes", p.done)}
		if p.total > 0 {
			fields = append(fields, logger.Float64("percent", float64(p.done)*100/float64(p.total)))
		}
		p.log.Info("download progress", fields...)
	}
	return len(b), nil
}
