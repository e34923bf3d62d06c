// Package scraperapi is the HTTP client for the external scraping
// service, which owns data collection and the backing database. This
// API only reads its paginated query endpoints and triggers its jobs.
package scraperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/reachmetrics/reachmetrics-api/internal/httpapi"
	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// PaceRPS throttles outgoing calls so batched cache refills don't
	// hammer the upstream. 0 disables pacing.
	PaceRPS   float64
	PaceBurst int
	// OnError is called once per failed call with the mapped error
	// kind ("upstream", "timeout", ...), for metrics.
	OnError func(kind string)
}

// Client talks to the scraper service.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	pacer   *rate.Limiter
	onError func(kind string)
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xerrors.Newf("scraperapi: invalid base URL %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	var pacer *rate.Limiter
	if opts.PaceRPS > 0 {
		burst := opts.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(opts.PaceRPS), burst)
	}
	return &Client{base: base, apiKey: opts.APIKey, http: hc, pacer: pacer, onError: opts.OnError}, nil
}

// page is the wire shape of every paginated list endpoint.
type page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

// do issues one request and decodes the response into out. Transport
// failures and 5xx map to the upstream error kind, a blown deadline to
// the timeout kind, so call sites can apply the stale-cache fallback.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return c.fail(classify(err))
		}
	}

	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(err, "encode request body")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(classify(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return c.fail(httpapi.WrapError(httpapi.KindUpstream,
			xerrors.Newf("scraper service returned %d", resp.StatusCode),
			"scraper service unavailable"))
	case resp.StatusCode >= 400:
		return c.fail(httpapi.WrapError(httpapi.KindInternal,
			xerrors.Newf("scraper service rejected request: %d", resp.StatusCode),
			"internal server error"))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(httpapi.WrapError(httpapi.KindUpstream, err, "scraper service returned malformed response"))
	}
	return nil
}

// fail reports the error's kind to the metrics hook before returning
// it. Cancellations pass through unreported; the caller went away.
func (c *Client) fail(err error) error {
	if c.onError != nil {
		var apiErr *httpapi.Error
		if errors.As(err, &apiErr) {
			c.onError(apiErr.Kind.String())
		}
	}
	return err
}

// classify maps transport-level failures to the pipeline taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return httpapi.WrapError(httpapi.KindTimeout, err, "scraper service timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return httpapi.WrapError(httpapi.KindUpstream, err, "scraper service unreachable")
}

// Subreddit is scraped subreddit metadata.
type Subreddit struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Subscribers int       `json:"subscribers"`
	Category    string    `json:"category,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Creator is scraped creator metadata.
type Creator struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Platform  string    `json:"platform"`
	Followers int       `json:"followers"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// ListQuery holds the paginated list parameters shared by the query
// endpoints.
type ListQuery struct {
	Category string
	Sort     string
	Limit    int
	Offset   int
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	return v
}

// ListSubreddits fetches one batch of subreddits.
func (c *Client) ListSubreddits(ctx context.Context, q ListQuery) ([]Subreddit, int, error) {
	var p page[Subreddit]
	if err := c.do(ctx, http.MethodGet, "/v1/subreddits", q.values(), nil, &p); err != nil {
		return nil, 0, err
	}
	return p.Items, p.TotalCount, nil
}

// ListCreators fetches one batch of creators.
func (c *Client) ListCreators(ctx context.Context, q ListQuery) ([]Creator, int, error) {
	var p page[Creator]
	if err := c.do(ctx, http.MethodGet, "/v1/creators", q.values(), nil, &p); err != nil {
		return nil, 0, err
	}
	return p.Items, p.TotalCount, nil
}

// ScrapeRequest asks the scraper to collect a target.
type ScrapeRequest struct {
	Target string `json:"target"`
	Kind   string `json:"kind"` // "subreddit" or "creator"
}

// ScrapeJob is the scraper's acknowledgement of a queued job.
type ScrapeJob struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// TriggerScrape queues a scrape job upstream.
func (c *Client) TriggerScrape(ctx context.Context, req ScrapeRequest) (*ScrapeJob, error) {
	var job ScrapeJob
	if err := c.do(ctx, http.MethodPost, "/v1/scrape", nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CategorizeBatch submits names for AI categorization. This is the slow
// path; callers set a multi-minute deadline on ctx.
func (c *Client) CategorizeBatch(ctx context.Context, names []string) (map[string]string, error) {
	body := struct {
		Names []string `json:"names"`
	}{Names: names}
	var out struct {
		Categories map[string]string `json:"categories"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/categorize", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Categories == nil {
		return nil, c.fail(httpapi.WrapError(httpapi.KindUpstream,
			fmt.Errorf("missing categories in response"),
			"scraper service returned malformed response"))
	}
	return out.Categories, nil
}
