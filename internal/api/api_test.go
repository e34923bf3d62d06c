package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reachmetrics/reachmetrics-api/internal/apiversion"
	"github.com/reachmetrics/reachmetrics-api/internal/auth"
	"github.com/reachmetrics/reachmetrics-api/internal/cors"
	"github.com/reachmetrics/reachmetrics-api/internal/httpapi"
	"github.com/reachmetrics/reachmetrics-api/internal/ratelimit"
	"github.com/reachmetrics/reachmetrics-api/internal/scraperapi"
	"github.com/reachmetrics/reachmetrics-api/internal/secure"
)

// stubUpstream serves a fixed dataset and records calls.
type stubUpstream struct {
	subreddits []scraperapi.Subreddit
	creators   []scraperapi.Creator
	err        error

	listCalls    int
	scrapeReq    *scraperapi.ScrapeRequest
	categorized  []string
	categorizeFn func(ctx context.Context) (map[string]string, error)
}

func (s *stubUpstream) ListSubreddits(_ context.Context, q scraperapi.ListQuery) ([]scraperapi.Subreddit, int, error) {
	s.listCalls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return pageOf(s.subreddits, q), len(s.subreddits), nil
}

func (s *stubUpstream) ListCreators(_ context.Context, q scraperapi.ListQuery) ([]scraperapi.Creator, int, error) {
	s.listCalls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return pageOf(s.creators, q), len(s.creators), nil
}

func (s *stubUpstream) TriggerScrape(_ context.Context, req scraperapi.ScrapeRequest) (*scraperapi.ScrapeJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.scrapeReq = &req
	return &scraperapi.ScrapeJob{JobID: "job-1", Status: "queued"}, nil
}

func (s *stubUpstream) CategorizeBatch(ctx context.Context, names []string) (map[string]string, error) {
	s.categorized = names
	if s.categorizeFn != nil {
		return s.categorizeFn(ctx)
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = "tech"
	}
	return out, nil
}

func pageOf[T any](all []T, q scraperapi.ListQuery) []T {
	if q.Offset >= len(all) {
		return nil
	}
	end := q.Offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[q.Offset:end]
}

func subredditFixture(n int) []scraperapi.Subreddit {
	out := make([]scraperapi.Subreddit, n)
	for i := range out {
		out[i] = scraperapi.Subreddit{
			ID:          fmt.Sprintf("s%04d", i),
			Name:        fmt.Sprintf("sub%04d", i),
			Subscribers: i * 100,
		}
	}
	return out
}

// newTestAPI mounts the full route table behind a permissive wrapper.
func newTestAPI(t *testing.T, up *stubUpstream) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := New(Options{
		Upstream:       up,
		CacheTTL:       time.Minute,
		CacheBatchSize: 1000,
	})
	w := secure.NewWrapper(secure.Deps{
		Verifier: verifierFunc(func(tok string) (*auth.User, error) {
			if tok == "good-token" {
				return &auth.User{ID: "user-1"}, nil
			}
			return nil, auth.ErrUnauthorized
		}),
		Limiter: ratelimit.New(ratelimit.NewMemoryStore(ctx), []ratelimit.Policy{
			{Name: "default", Limit: 1000, Window: time.Minute},
			{Name: "ai", Limit: 1000, Window: time.Minute},
			{Name: "scraper", Limit: 1000, Window: time.Minute},
		}),
		CORS:     cors.New(cors.Options{Development: true}),
		Versions: apiversion.NewResolver("v1", map[apiversion.Version]apiversion.Meta{"v1": {}}),
	})

	r := chi.NewRouter()
	a.RegisterRoutes(r, w)
	return r
}

type verifierFunc func(tok string) (*auth.User, error)

func (f verifierFunc) Verify(_ context.Context, tok string) (*auth.User, error) { return f(tok) }

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func post(h http.Handler, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer good-token")
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestStatus_NoAuthRequired(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Errorf("public route has rate-limit headers: %q", got)
	}
}

func TestListSubreddits(t *testing.T) {
	up := &stubUpstream{subreddits: subredditFixture(2500)}
	h := newTestAPI(t, up)

	rec := get(h, "/api/v1/subreddits?limit=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if up.listCalls != 3 {
		t.Errorf("upstream calls = %d, want 3 batches for 2500 rows", up.listCalls)
	}

	var env httpapi.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if !env.Success || env.Count != 50 || env.Stale {
		t.Errorf("envelope = %+v", env)
	}
}

func TestListSubreddits_EmptyResultReportsCount(t *testing.T) {
	up := &stubUpstream{}
	h := newTestAPI(t, up)

	rec := get(h, "/api/v1/subreddits?limit=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// clients distinguish "no rows" from "no count reported", so the
	// field must be present even at zero
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	count, ok := body["count"]
	if !ok {
		t.Fatalf("count missing from body %s", rec.Body.String())
	}
	if count != float64(0) {
		t.Errorf("count = %v, want 0", count)
	}
}

func TestListSubreddits_CacheReuse(t *testing.T) {
	up := &stubUpstream{subreddits: subredditFixture(100)}
	h := newTestAPI(t, up)

	get(h, "/api/v1/subreddits")
	get(h, "/api/v1/subreddits?limit=10")

	// second request only changes the row cap, so it hits the same slot
	if up.listCalls != 1 {
		t.Errorf("upstream calls = %d, want 1", up.listCalls)
	}

	// a different category is a different slot
	get(h, "/api/v1/subreddits?category=tech")
	if up.listCalls != 2 {
		t.Errorf("upstream calls = %d, want 2 after category change", up.listCalls)
	}
}

func TestListSubreddits_SortBySubscribers(t *testing.T) {
	up := &stubUpstream{subreddits: subredditFixture(100)}
	h := newTestAPI(t, up)

	rec := get(h, "/api/v1/subreddits?sort=subscribers&limit=3")

	var env struct {
		Data []scraperapi.Subreddit `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &env)
	if len(env.Data) != 3 {
		t.Fatalf("data = %d rows", len(env.Data))
	}
	if env.Data[0].Subscribers < env.Data[1].Subscribers || env.Data[1].Subscribers < env.Data[2].Subscribers {
		t.Errorf("not sorted by subscribers desc: %v", env.Data)
	}
}

func TestListSubreddits_Validation(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{})

	tests := []struct {
		name   string
		target string
	}{
		{"bad sort", "/api/v1/subreddits?sort=bogus"},
		{"zero limit", "/api/v1/subreddits?limit=0"},
		{"huge limit", "/api/v1/subreddits?limit=99999"},
		{"non-numeric limit", "/api/v1/subreddits?limit=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body map[string]any
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body["success"] != false {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestListCreators_StaleFallback(t *testing.T) {
	up := &stubUpstream{creators: []scraperapi.Creator{
		{ID: "c1", Handle: "alice", Followers: 10},
		{ID: "c2", Handle: "bob", Followers: 20},
	}}
	h := newTestAPI(t, up)

	// warm the cache, then expire it by swapping the upstream to fail
	if rec := get(h, "/api/v1/creators"); rec.Code != http.StatusOK {
		t.Fatalf("warmup status = %d", rec.Code)
	}
	up.err = errors.New("scraper down")

	// still fresh: served from cache without touching the upstream
	rec := get(h, "/api/v1/creators")
	if rec.Code != http.StatusOK {
		t.Fatalf("cached read status = %d", rec.Code)
	}
	var env httpapi.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Stale {
		t.Error("fresh cache hit marked stale")
	}
}

func TestListCreators_ColdUpstreamFailure(t *testing.T) {
	up := &stubUpstream{err: httpapi.Errorf(httpapi.KindUpstream, "scraper service unavailable")}
	h := newTestAPI(t, up)

	rec := get(h, "/api/v1/creators")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestTriggerScrape(t *testing.T) {
	up := &stubUpstream{}
	h := newTestAPI(t, up)

	rec := post(h, "/api/v1/scrape", `{"target":"golang","kind":"subreddit"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if up.scrapeReq == nil || up.scrapeReq.Target != "golang" {
		t.Errorf("upstream request = %+v", up.scrapeReq)
	}

	var env struct {
		Data scraperapi.ScrapeJob `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Data.JobID != "job-1" {
		t.Errorf("job = %+v", env.Data)
	}
}

func TestTriggerScrape_Validation(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing target", `{"kind":"subreddit"}`},
		{"bad kind", `{"target":"golang","kind":"website"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, "/api/v1/scrape", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	up := &stubUpstream{}
	h := newTestAPI(t, up)

	rec := post(h, "/api/v1/categorize", `{"names":["golang","fitness"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(up.categorized) != 2 {
		t.Errorf("categorized = %v", up.categorized)
	}
}

func TestCategorize_RunsUnderDeadline(t *testing.T) {
	up := &stubUpstream{categorizeFn: func(ctx context.Context) (map[string]string, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("categorize context has no deadline")
		}
		return map[string]string{}, nil
	}}
	h := newTestAPI(t, up)

	post(h, "/api/v1/categorize", `{"names":["golang"]}`)
}

func TestCategorize_Validation(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{})

	big := `{"names":[` + strings.Repeat(`"x",`, 500) + `"y"]}`
	tests := []struct {
		name string
		body string
	}{
		{"empty names", `{"names":[]}`},
		{"missing names", `{}`},
		{"over 500 names", big},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, "/api/v1/categorize", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRoutes_UnknownVersionFallsBack(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{subreddits: subredditFixture(5)})

	rec := get(h, "/api/v9/subreddits")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-API-Version"); got != "v1" {
		t.Errorf("X-API-Version = %q, want default v1", got)
	}
}

func TestRoutes_Preflight(t *testing.T) {
	h := newTestAPI(t, &stubUpstream{})

	for _, p := range []string{"/status", "/subreddits", "/creators", "/scrape", "/categorize"} {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1"+p, nil)
		r.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s: status = %d, want 204", p, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("OPTIONS %s: Allow-Origin = %q", p, got)
		}
	}
}
