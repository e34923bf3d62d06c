// Package api registers the business routes behind the security
// pipeline. Handlers validate their own input (400s originate here) and
// delegate expensive aggregate reads to fetchcache.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reachmetrics/reachmetrics-api/internal/auth"
	"github.com/reachmetrics/reachmetrics-api/internal/fetchcache"
	"github.com/reachmetrics/reachmetrics-api/internal/httpapi"
	"github.com/reachmetrics/reachmetrics-api/internal/scraperapi"
	"github.com/reachmetrics/reachmetrics-api/internal/secure"
)

// Upstream is the slice of the scraper client the handlers use.
type Upstream interface {
	ListSubreddits(ctx context.Context, q scraperapi.ListQuery) ([]scraperapi.Subreddit, int, error)
	ListCreators(ctx context.Context, q scraperapi.ListQuery) ([]scraperapi.Creator, int, error)
	TriggerScrape(ctx context.Context, req scraperapi.ScrapeRequest) (*scraperapi.ScrapeJob, error)
	CategorizeBatch(ctx context.Context, names []string) (map[string]string, error)
}

// Options configures the API surface.
type Options struct {
	Upstream Upstream
	// ReadTimeout bounds interactive upstream reads.
	ReadTimeout time.Duration
	// SlowTimeout is the ceiling for batch categorization calls.
	SlowTimeout time.Duration

	CacheTTL       time.Duration
	CacheBatchSize int

	// CacheMetrics hooks, optional; see metrics.ServerMetrics.
	OnCacheHit   func(dataset string)
	OnCacheMiss  func(dataset string)
	OnCacheStale func(dataset string)
}

// API holds the handler dependencies.
type API struct {
	upstream    Upstream
	readTimeout time.Duration
	slowTimeout time.Duration

	subreddits *fetchcache.Fetcher[scraperapi.Subreddit]
	creators   *fetchcache.Fetcher[scraperapi.Creator]
}

// maxAggregate caps how many unique rows a single aggregate read may
// accumulate, whatever the upstream claims its total is.
const maxAggregate = 10000

func New(opts Options) *API {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.SlowTimeout == 0 {
		opts.SlowTimeout = 5 * time.Minute
	}
	hook := func(fn func(string), dataset string) func() {
		if fn == nil {
			return nil
		}
		return func() { fn(dataset) }
	}
	return &API{
		upstream:    opts.Upstream,
		readTimeout: opts.ReadTimeout,
		slowTimeout: opts.SlowTimeout,
		subreddits: fetchcache.New(fetchcache.Options[scraperapi.Subreddit]{
			TTL:       opts.CacheTTL,
			BatchSize: opts.CacheBatchSize,
			Identity:  func(s scraperapi.Subreddit) string { return s.ID },
			OnHit:     hook(opts.OnCacheHit, "subreddits"),
			OnMiss:    hook(opts.OnCacheMiss, "subreddits"),
			OnStale:   hook(opts.OnCacheStale, "subreddits"),
		}),
		creators: fetchcache.New(fetchcache.Options[scraperapi.Creator]{
			TTL:       opts.CacheTTL,
			BatchSize: opts.CacheBatchSize,
			Identity:  func(c scraperapi.Creator) string { return c.ID },
			OnHit:     hook(opts.OnCacheHit, "creators"),
			OnMiss:    hook(opts.OnCacheMiss, "creators"),
			OnStale:   hook(opts.OnCacheStale, "creators"),
		}),
	}
}

// RegisterRoutes mounts the API under /api/{version}. The version
// pattern matches any v<N> so unknown versions still route and fall
// back to the default version's behavior.
func (a *API) RegisterRoutes(r chi.Router, w *secure.Wrapper) {
	r.Route("/api/{version:v[0-9]+}", func(r chi.Router) {
		r.Method(http.MethodGet, "/status", w.Wrap(secure.PublicPreset, a.Status))
		r.Method(http.MethodGet, "/subreddits", w.Wrap(secure.StandardPreset, a.ListSubreddits))
		r.Method(http.MethodGet, "/creators", w.Wrap(secure.StandardPreset, a.ListCreators))
		r.Method(http.MethodPost, "/scrape", w.Wrap(secure.ScraperPreset, a.TriggerScrape))
		r.Method(http.MethodPost, "/categorize", w.Wrap(secure.AIPreset,
			secure.WithDeadline(a.slowTimeout, a.Categorize)))

		// preflight probes are answered by the wrapper before any other
		// stage runs, so the preset here is irrelevant
		for _, p := range []string{"/status", "/subreddits", "/creators", "/scrape", "/categorize"} {
			r.Method(http.MethodOptions, p, w.Wrap(secure.PublicPreset, a.Status))
		}
	})
}

// Status is the public liveness surface for dashboards.
func (a *API) Status(ctx context.Context, r *http.Request, _ *auth.User) (*httpapi.Response, error) {
	return httpapi.OK(map[string]any{"status": "ok"}), nil
}

var validSorts = map[string]bool{"": true, "subscribers": true, "followers": true, "name": true, "scraped_at": true}

// listParams validates the shared aggregate query parameters.
func listParams(r *http.Request) (category, sortBy string, limit int, err error) {
	q := r.URL.Query()
	category = strings.TrimSpace(q.Get("category"))
	sortBy = q.Get("sort")
	if !validSorts[sortBy] {
		return "", "", 0, httpapi.Errorf(httpapi.KindValidation, "invalid sort %q", sortBy)
	}
	limit = 100
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAggregate {
			return "", "", 0, httpapi.Errorf(httpapi.KindValidation, "limit must be 1..%d", maxAggregate)
		}
	}
	return category, sortBy, limit, nil
}

// cacheKey normalizes query parameters into one cache slot per shape.
// The caller-requested row cap is not part of the shape: the cache
// holds the full aggregate and the handler trims.
func cacheKey(dataset, category, sortBy string) string {
	return fmt.Sprintf("%s|category=%s|sort=%s", dataset, category, sortBy)
}

// ListSubreddits serves the batched cached subreddit aggregate.
func (a *API) ListSubreddits(ctx context.Context, r *http.Request, _ *auth.User) (*httpapi.Response, error) {
	category, sortBy, limit, err := listParams(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	items, stale, err := a.subreddits.Fetch(ctx, cacheKey("subreddits", category, sortBy), maxAggregate,
		func(ctx context.Context, batch, offset int) ([]scraperapi.Subreddit, int, error) {
			return a.upstream.ListSubreddits(ctx, scraperapi.ListQuery{
				Category: category, Sort: sortBy, Limit: batch, Offset: offset,
			})
		})
	if err != nil {
		return nil, err
	}

	if sortBy == "subscribers" {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Subscribers > items[j].Subscribers })
	}
	if len(items) > limit {
		items = items[:limit]
	}
	resp := httpapi.NewResponse(http.StatusOK, httpapi.Envelope{
		Success: true, Data: items, Count: len(items), Stale: stale,
	})
	return resp, nil
}

// ListCreators serves the batched cached creator aggregate.
func (a *API) ListCreators(ctx context.Context, r *http.Request, _ *auth.User) (*httpapi.Response, error) {
	category, sortBy, limit, err := listParams(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	items, stale, err := a.creators.Fetch(ctx, cacheKey("creators", category, sortBy), maxAggregate,
		func(ctx context.Context, batch, offset int) ([]scraperapi.Creator, int, error) {
			return a.upstream.ListCreators(ctx, scraperapi.ListQuery{
				Category: category, Sort: sortBy, Limit: batch, Offset: offset,
			})
		})
	if err != nil {
		return nil, err
	}

	if sortBy == "followers" {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Followers > items[j].Followers })
	}
	if len(items) > limit {
		items = items[:limit]
	}
	resp := httpapi.NewResponse(http.StatusOK, httpapi.Envelope{
		Success: true, Data: items, Count: len(items), Stale: stale,
	})
	return resp, nil
}

// TriggerScrape queues an upstream scrape job for an operator.
func (a *API) TriggerScrape(ctx context.Context, r *http.Request, _ *auth.User) (*httpapi.Response, error) {
	var req scraperapi.ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, httpapi.Errorf(httpapi.KindValidation, "malformed request body")
	}
	if req.Target == "" {
		return nil, httpapi.Errorf(httpapi.KindValidation, "target is required")
	}
	if req.Kind != "subreddit" && req.Kind != "creator" {
		return nil, httpapi.Errorf(httpapi.KindValidation, "kind must be subreddit or creator")
	}

	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	job, err := a.upstream.TriggerScrape(ctx, req)
	if err != nil {
		return nil, err
	}
	return httpapi.OK(job), nil
}

// Categorize submits up to 500 names for AI categorization. The route
// runs under the slow deadline set by RegisterRoutes.
func (a *API) Categorize(ctx context.Context, r *http.Request, _ *auth.User) (*httpapi.Response, error) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, httpapi.Errorf(httpapi.KindValidation, "malformed request body")
	}
	if len(req.Names) == 0 {
		return nil, httpapi.Errorf(httpapi.KindValidation, "names is required")
	}
	if len(req.Names) > 500 {
		return nil, httpapi.Errorf(httpapi.KindValidation, "at most 500 names per request")
	}

	categories, err := a.upstream.CategorizeBatch(ctx, req.Names)
	if err != nil {
		return nil, err
	}
	return httpapi.OK(map[string]any{"categories": categories}), nil
}
