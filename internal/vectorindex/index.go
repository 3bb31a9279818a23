package vectorindex

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// DefaultCollection is the bucket the ingredient index lives in
const DefaultCollection = "nutrigraph_ingredients"

const defaultOpenTimeout = time.Second

// ctxCheckInterval is how many entries are written between context checks
const ctxCheckInterval = 256

var (
	bucketEntries = []byte("entries")
	bucketVectors = []byte("vectors")
	bucketMeta    = []byte("meta")
	keyMeta       = []byte("collection")
)

// Options configures Open
type Options struct {
	// OpenTimeout bounds the wait for the file lock; 0 means one second
	OpenTimeout time.Duration
	// ReadOnly opens with a shared lock and refuses writes
	ReadOnly bool
	// Embedder is recorded in the metadata of collections this handle writes
	Embedder string
	Logger   logger.Logger
}

// Index is a persisted vector collection
type Index struct {
	db         *bbolt.DB
	path       string
	collection []byte
	opts       Options
	log        logger.Logger

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
	closed  atomic.Bool
}

type snapshot struct {
	entries []Entry
	norms   []float64
	meta    Meta
}

// Open opens or creates the index file at path. Any failure to open the
// file, take its lock or read the collection is an index-unavailable error.
func Open(path, collection string, opts Options) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("vectorindex")
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.IndexUnavailableError(err, "open")
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: opts.OpenTimeout, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, errors.IndexUnavailableError(fmt.Errorf("opening %s: %w", path, err), "open")
	}

	idx := &Index{
		db:         db,
		path:       path,
		collection: []byte(collection),
		opts:       opts,
		log:        opts.Logger.With(logger.String("collection", collection)),
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := createCollection(tx, idx.collection, false)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.IndexUnavailableError(err, "open")
		}
	}

	if err := idx.Reload(); err != nil {
		_ = db.Close()
		return nil, err
	}

	meta := idx.Meta()
	idx.log.Debug("vector index opened",
		logger.String("path", path),
		logger.Int("entries", meta.Count),
		logger.Int("dimension", meta.Dimension),
		logger.Bool("read_only", opts.ReadOnly))
	return idx, nil
}

func createCollection(tx *bbolt.Tx, name []byte, recreate bool) (*bbolt.Bucket, error) {
	if recreate && tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return nil, fmt.Errorf("dropping collection: %w", err)
		}
	}
	root, err := tx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	for _, b := range [][]byte{bucketEntries, bucketVectors, bucketMeta} {
		if _, err := root.CreateBucketIfNotExists(b); err != nil {
			return nil, fmt.Errorf("creating %s bucket: %w", b, err)
		}
	}
	return root, nil
}

// Reload replaces the in-memory snapshot with what is on disk
func (idx *Index) Reload() error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if idx.closed.Load() {
		return errors.IndexUnavailableError(errors.NewStd("index is closed"), "reload")
	}

	snap := &snapshot{}
	err := idx.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(idx.collection)
		if root == nil {
			return nil
		}
		var err error
		snap, err = readSnapshot(root)
		return err
	})
	if err != nil {
		return errors.IndexUnavailableError(err, "load")
	}

	idx.snap.Store(snap)
	return nil
}

func readSnapshot(root *bbolt.Bucket) (*snapshot, error) {
	snap := &snapshot{}
	if raw := root.Bucket(bucketMeta).Get(keyMeta); raw != nil {
		if err := json.Unmarshal(raw, &snap.meta); err != nil {
			return nil, fmt.Errorf("decoding collection metadata: %w", err)
		}
	}

	vectors := root.Bucket(bucketVectors)
	err := root.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decoding entry %q: %w", k, err)
		}
		vec, err := decodeVector(vectors.Get(k))
		if err != nil {
			return fmt.Errorf("decoding vector %q: %w", k, err)
		}
		if snap.meta.Dimension != 0 && len(vec) != snap.meta.Dimension {
			return fmt.Errorf("vector %q has dimension %d, collection has %d", k, len(vec), snap.meta.Dimension)
		}
		e.Vector = vec
		snap.entries = append(snap.entries, e)
		snap.norms = append(snap.norms, vectorNorm(vec))
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.meta.Count = len(snap.entries)
	return snap, nil
}

// Rebuild replaces the whole collection with entries in one transaction.
// On any error the previous collection stays in place, on disk and in
// memory.
func (idx *Index) Rebuild(ctx context.Context, entries []Entry) error {
	return idx.write(ctx, "rebuild", entries, true)
}

// UpsertBatch adds entries to the collection, replacing existing entries
// with the same normalized name.
func (idx *Index) UpsertBatch(ctx context.Context, entries []Entry) error {
	return idx.write(ctx, "upsert", entries, false)
}

func (idx *Index) write(ctx context.Context, op string, entries []Entry, recreate bool) error {
	if idx.opts.ReadOnly {
		return errors.IndexUnavailableError(errors.NewStd("index is opened read-only"), op)
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if idx.closed.Load() {
		return errors.IndexUnavailableError(errors.NewStd("index is closed"), op)
	}

	current := idx.snap.Load()
	dim := current.meta.Dimension
	if recreate || current.meta.Count == 0 {
		dim = 0
	}
	dim, err := validateEntries(entries, dim, !recreate)
	if err != nil {
		return err
	}

	start := time.Now()
	meta := Meta{Dimension: dim, Embedder: idx.opts.Embedder, BuiltAt: start.UTC()}
	if !recreate && meta.Embedder == "" {
		meta.Embedder = current.meta.Embedder
	}

	var next *snapshot
	err = idx.db.Update(func(tx *bbolt.Tx) error {
		root, err := createCollection(tx, idx.collection, recreate)
		if err != nil {
			return err
		}
		entryBucket := root.Bucket(bucketEntries)
		vectorBucket := root.Bucket(bucketVectors)

		for i := range entries {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			e := &entries[i]
			key := []byte(e.NameNormalized)
			record, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding entry %q: %w", e.NameNormalized, err)
			}
			if err := entryBucket.Put(key, record); err != nil {
				return err
			}
			if err := vectorBucket.Put(key, encodeVector(e.Vector)); err != nil {
				return err
			}
		}

		next = nextSnapshot(current, entries, meta, recreate)
		next.meta.Count = len(next.entries)

		raw, err := json.Marshal(next.meta)
		if err != nil {
			return err
		}
		return root.Bucket(bucketMeta).Put(keyMeta, raw)
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.New(err).
				Component("vectorindex").
				Category(errors.CategoryCancellation).
				Context("operation", op).
				Build()
		}
		return errors.IndexUnavailableError(err, op)
	}

	idx.snap.Store(next)
	idx.log.Info("vector index committed",
		logger.String("operation", op),
		logger.Int("written", len(entries)),
		logger.Int("entries", next.meta.Count),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// validateEntries checks keys and vector lengths and returns the collection
// dimension. dim 0 means any dimension is accepted for the first entry.
func validateEntries(entries []Entry, dim int, allowDuplicates bool) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.NameNormalized == "" {
			return 0, errors.ValidationError(fmt.Sprintf("entry %d has no normalized name", i))
		}
		if len(e.Vector) == 0 {
			return 0, errors.ValidationError(fmt.Sprintf("entry %q has no vector", e.NameNormalized))
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return 0, errors.ValidationError(fmt.Sprintf("entry %q has dimension %d, want %d", e.NameNormalized, len(e.Vector), dim))
		}
		if _, dup := seen[e.NameNormalized]; dup && !allowDuplicates {
			return 0, errors.ValidationError(fmt.Sprintf("duplicate entry %q", e.NameNormalized))
		}
		seen[e.NameNormalized] = struct{}{}
	}
	return dim, nil
}

// nextSnapshot builds the post-commit snapshot without mutating current
func nextSnapshot(current *snapshot, entries []Entry, meta Meta, recreate bool) *snapshot {
	byKey := make(map[string]int)
	next := &snapshot{meta: meta}

	add := func(e Entry, norm float64) {
		if i, ok := byKey[e.NameNormalized]; ok {
			next.entries[i] = e
			next.norms[i] = norm
			return
		}
		byKey[e.NameNormalized] = len(next.entries)
		next.entries = append(next.entries, e)
		next.norms = append(next.norms, norm)
	}

	if !recreate {
		for i := range current.entries {
			add(current.entries[i], current.norms[i])
		}
	}
	for i := range entries {
		e := entries[i]
		e.Vector = slices.Clone(e.Vector)
		add(e, vectorNorm(e.Vector))
	}
	return next
}

// Query returns the k entries most similar to vector, by descending cosine
// similarity with ties broken by normalized name. A k larger than the
// collection returns the whole collection; k <= 0 returns nothing.
func (idx *Index) Query(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if idx.closed.Load() {
		return nil, errors.IndexUnavailableError(errors.NewStd("index is closed"), "query")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := idx.snap.Load()
	if len(snap.entries) == 0 || k <= 0 {
		return []Result{}, nil
	}
	if len(vector) != snap.meta.Dimension {
		return nil, errors.ValidationError(fmt.Sprintf("query vector has dimension %d, index has %d", len(vector), snap.meta.Dimension))
	}

	qnorm := vectorNorm(vector)
	scored := make([]Result, len(snap.entries))
	for i := range snap.entries {
		e := snap.entries[i]
		e.Vector = nil
		scored[i] = Result{Entry: e, Similarity: cosine(vector, snap.entries[i].Vector, qnorm, snap.norms[i])}
	}

	slices.SortFunc(scored, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			cmp.Compare(a.Entry.NameNormalized, b.Entry.NameNormalized),
		)
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

// Meta returns the metadata of the current snapshot
func (idx *Index) Meta() Meta {
	return idx.snap.Load().meta
}

// Count returns the number of entries in the current snapshot
func (idx *Index) Count() int {
	return len(idx.snap.Load().entries)
}

// Collection returns the collection name
func (idx *Index) Collection() string {
	return string(idx.collection)
}

// Path returns the index file path
func (idx *Index) Path() string {
	return idx.path
}

// Close waits for an in-flight write and closes the file. Queries after
// Close fail with an index-unavailable error.
func (idx *Index) Close() error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if idx.closed.Swap(true) {
		return nil
	}
	return idx.db.Close()
}

// Ping checks that the index file is open and the collection readable
func (idx *Index) Ping() error {
	if idx.closed.Load() {
		return errors.IndexUnavailableError(fmt.Errorf("index is closed"), "ping")
	}
	err := idx.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(idx.collection) == nil {
			return fmt.Errorf("collection %q does not exist", idx.collection)
		}
		return nil
	})
	if err != nil {
		return errors.IndexUnavailableError(err, "ping")
	}
	return nil
}
