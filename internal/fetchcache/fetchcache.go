// Package fetchcache serves expensive aggregate reads from a
// process-local cache filled by bounded batch fetches against a
// paginated upstream.
//
// A warm entry is never evicted by a failed refresh: staleness is a
// valid state, emptiness is not. Concurrent requests racing to refresh
// an expired entry may each run the full batch fetch; the later write
// wins, which is an inefficiency rather than a correctness problem
// since both compute the same logical result.
package fetchcache

import (
	"context"
	"sync"
	"time"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// PageFunc fetches one batch from the paginated upstream. total is the
// upstream-reported total row count for the query (0 when unknown).
type PageFunc[T any] func(ctx context.Context, limit, offset int) (items []T, total int, err error)

// entry is one cache slot per distinct query shape.
type entry[T any] struct {
	payload   []T
	fetchedAt time.Time
}

// Options configures a Fetcher.
type Options[T any] struct {
	// TTL is the freshness window for a cache entry.
	TTL time.Duration
	// BatchSize is the page size requested from the upstream; the
	// upstream caps pages, so this also bounds each round trip.
	BatchSize int
	// Identity keys deduplication across batch boundaries.
	Identity func(T) string

	// Metrics hooks, all optional.
	OnHit   func()
	OnMiss  func()
	OnStale func()
}

// Fetcher caches batched aggregate results keyed by normalized query
// parameters. One Fetcher serves one dataset; the per-call PageFunc
// closes over the query parameters its key normalizes.
type Fetcher[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]

	opts Options[T]

	now func() time.Time // injectable clock for tests
}

// New builds a Fetcher.
func New[T any](opts Options[T]) *Fetcher[T] {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	return &Fetcher[T]{
		entries: make(map[string]*entry[T]),
		opts:    opts,
		now:     time.Now,
	}
}

// Fetch returns the collection for key, from cache when fresh. stale is
// true when a refresh failed and the previous payload was served
// instead. The error is non-nil only when no entry was ever populated
// for key.
func (f *Fetcher[T]) Fetch(ctx context.Context, key string, totalLimit int, page PageFunc[T]) (items []T, stale bool, err error) {
	if cached, ok := f.fresh(key); ok {
		if f.opts.OnHit != nil {
			f.opts.OnHit()
		}
		return cached, false, nil
	}
	if f.opts.OnMiss != nil {
		f.opts.OnMiss()
	}

	fetched, err := f.fillBatches(ctx, totalLimit, page)
	if err != nil {
		if prev, ok := f.last(key); ok {
			log.FromContext(ctx).Warn(ctx, "batch refresh failed, serving stale cache",
				"cache_key", key,
				"err", err.Error(),
			)
			if f.opts.OnStale != nil {
				f.opts.OnStale()
			}
			return prev, true, nil
		}
		return nil, false, err
	}

	f.mu.Lock()
	f.entries[key] = &entry[T]{payload: fetched, fetchedAt: f.now()}
	f.mu.Unlock()
	return fetched, false, nil
}

// fillBatches pulls successive pages from offset 0, deduplicating by
// identity so rows repeated across batch boundaries are counted once.
// Stops on a short batch, or once the unique count reaches the smaller
// of totalLimit and the upstream-reported total.
func (f *Fetcher[T]) fillBatches(ctx context.Context, totalLimit int, page PageFunc[T]) ([]T, error) {
	batchSize := f.opts.BatchSize

	seen := make(map[string]struct{})
	ordered := make([]T, 0, batchSize)

	for offset := 0; ; offset += batchSize {
		items, total, err := page(ctx, batchSize, offset)
		if err != nil {
			return nil, xerrors.Wrapf(err, "batch fetch at offset %d", offset)
		}

		for _, it := range items {
			id := f.opts.Identity(it)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ordered = append(ordered, it)
		}

		if totalLimit > 0 && len(ordered) >= totalLimit {
			ordered = ordered[:totalLimit]
			break
		}
		if len(items) < batchSize {
			break
		}
		if total > 0 && len(ordered) >= total {
			break
		}
	}
	return ordered, nil
}

// fresh returns the entry for key if it exists and is within TTL.
func (f *Fetcher[T]) fresh(key string) ([]T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || f.now().Sub(e.fetchedAt) >= f.opts.TTL {
		return nil, false
	}
	return e.payload, true
}

// last returns the entry for key regardless of age.
func (f *Fetcher[T]) last(key string) ([]T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	return e.payload, true
}
