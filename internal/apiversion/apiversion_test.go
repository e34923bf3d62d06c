package apiversion

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testResolver() *Resolver {
	return NewResolver("v2", map[Version]Meta{
		"v1": {
			Deprecated:    true,
			Sunset:        time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			MigrationDocs: "https://docs.example.com/migrate",
		},
		"v2": {},
	})
}

func TestResolve_Priority(t *testing.T) {
	rs := testResolver()

	tests := []struct {
		name   string
		path   string
		header string
		query  string
		want   Version
	}{
		{"path segment", "/api/v1/subreddits", "", "", "v1"},
		{"path beats header", "/api/v1/subreddits", "v2", "", "v1"},
		{"path beats query", "/api/v1/subreddits", "", "v2", "v1"},
		{"header when no path token", "/subreddits", "v1", "", "v1"},
		{"header beats query", "/subreddits", "v1", "v2", "v1"},
		{"query alone", "/subreddits", "", "v1", "v1"},
		{"nothing set", "/subreddits", "", "", "v2"},
		{"unknown path token", "/api/v9/subreddits", "", "", "v2"},
		{"unknown header", "/subreddits", "v9", "", "v2"},
		{"unknown query", "/subreddits", "", "v9", "v2"},
		{"path token at end", "/api/v1", "", "", "v1"},
		{"non-version path", "/api/vNext/subreddits", "v1", "", "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := tt.path
			if tt.query != "" {
				url += "?" + QueryParam + "=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set(HeaderName, tt.header)
			}
			if got := rs.Resolve(r); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	rs := testResolver()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/subreddits", nil)

	first := rs.Resolve(r)
	second := rs.Resolve(r)
	if first != second {
		t.Errorf("Resolve not stable: %q then %q", first, second)
	}
}

func TestDecorate_Stable(t *testing.T) {
	rs := testResolver()
	h := make(http.Header)

	rs.Decorate(h, "v2")

	if got := h.Get(HeaderName); got != "v2" {
		t.Errorf("%s = %q", HeaderName, got)
	}
	if got := h.Get("X-API-Version-Status"); got != "stable" {
		t.Errorf("status = %q", got)
	}
	if h.Get("Sunset") != "" || h.Get("Link") != "" {
		t.Error("stable version carries deprecation headers")
	}
}

func TestDecorate_Deprecated(t *testing.T) {
	rs := testResolver()
	h := make(http.Header)

	rs.Decorate(h, "v1")

	if got := h.Get("X-API-Version-Status"); got != "deprecated" {
		t.Errorf("status = %q", got)
	}
	if got := h.Get("X-API-Deprecation-Date"); got != "2026-12-31T00:00:00Z" {
		t.Errorf("deprecation date = %q", got)
	}
	if got := h.Get("Sunset"); got != "Thu, 31 Dec 2026 00:00:00 GMT" {
		t.Errorf("Sunset = %q", got)
	}
	if got := h.Get("Link"); got != `<https://docs.example.com/migrate>; rel="deprecation"` {
		t.Errorf("Link = %q", got)
	}
}

func TestDecorate_Idempotent(t *testing.T) {
	rs := testResolver()
	h := make(http.Header)

	rs.Decorate(h, "v1")
	rs.Decorate(h, "v1")

	if got := h.Values(HeaderName); len(got) != 1 {
		t.Errorf("%s values = %v, want exactly one", HeaderName, got)
	}
	if got := h.Values("Sunset"); len(got) != 1 {
		t.Errorf("Sunset values = %v, want exactly one", got)
	}
}

func TestDecorate_UnknownFallsBackToDefault(t *testing.T) {
	rs := testResolver()
	h := make(http.Header)

	rs.Decorate(h, "v9")

	if got := h.Get(HeaderName); got != "v2" {
		t.Errorf("%s = %q, want default v2", HeaderName, got)
	}
}
