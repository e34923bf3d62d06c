// Package cors decides whether a request origin may receive
// cross-origin response headers, and builds those headers.
//
// The policy echoes the allowed origin back rather than answering with
// a blanket wildcard, so credentialed requests stay valid. Decisions
// are computed fresh per request and never cached.
package cors

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Decision is the per-request outcome of the origin check.
type Decision struct {
	Allowed bool
	// Origin is the value echoed in Access-Control-Allow-Origin when
	// allowed; empty otherwise.
	Origin string
}

// Options configures a Policy.
type Options struct {
	// AllowedOrigins holds exact origins ("https://app.reachmetrics.io")
	// and wildcard-subdomain patterns ("*.reachmetrics.io").
	AllowedOrigins []string
	// Development echoes any non-empty origin, for local frontends.
	Development bool
	// MaxAge is the preflight cache lifetime. Defaults to 24h.
	MaxAge time.Duration
}

// Policy evaluates origins against an allow-list.
type Policy struct {
	exact     map[string]struct{}
	wildcards []string // bare domain suffixes from "*." entries
	dev       bool
	maxAge    time.Duration
}

const (
	allowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	allowHeaders = "Authorization, Content-Type, X-API-Version, X-Request-Id"
)

func New(opts Options) *Policy {
	p := &Policy{
		exact:  make(map[string]struct{}, len(opts.AllowedOrigins)),
		dev:    opts.Development,
		maxAge: opts.MaxAge,
	}
	if p.maxAge == 0 {
		p.maxAge = 24 * time.Hour
	}
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if domain, ok := strings.CutPrefix(o, "*."); ok {
			p.wildcards = append(p.wildcards, strings.ToLower(domain))
			continue
		}
		p.exact[strings.ToLower(o)] = struct{}{}
	}
	return p
}

// Decide evaluates an Origin header value. An empty origin (same-origin
// or non-browser caller) is never echoed.
func (p *Policy) Decide(origin string) Decision {
	if origin == "" {
		return Decision{}
	}
	if p.dev {
		return Decision{Allowed: true, Origin: origin}
	}

	lower := strings.ToLower(origin)
	if _, ok := p.exact[lower]; ok {
		return Decision{Allowed: true, Origin: origin}
	}

	host := originHost(lower)
	if host == "" {
		return Decision{}
	}
	for _, domain := range p.wildcards {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return Decision{Allowed: true, Origin: origin}
		}
	}
	return Decision{}
}

// Apply sets the cross-origin headers for d on h. Vary: Origin is set
// in all cases so caches never reuse a response across origins.
func (p *Policy) Apply(h http.Header, d Decision) {
	h.Add("Vary", "Origin")
	if !d.Allowed {
		return
	}
	h.Set("Access-Control-Allow-Origin", d.Origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", strconv.Itoa(int(p.maxAge.Seconds())))
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}
