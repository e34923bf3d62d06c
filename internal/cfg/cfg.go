// Package cfg holds application configuration bound to flags, with
// environment fallback and startup validation.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
)

// App is the full runtime configuration. Precedence per field:
// cli flag > env var > default.
type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int

	// Environment toggles CORS permissiveness and error detail:
	// "development" echoes any origin and surfaces internal error detail,
	// "production" enforces the allow-list and hides it.
	Environment string

	// AllowedOrigins is a comma-separated allow-list. Entries are exact
	// origins or wildcard-subdomain patterns ("*.reachmetrics.io").
	AllowedOrigins string

	// Per-policy rate limits. Window lengths are durations ("60s", "1m").
	RateLimitDefault       int
	RateLimitDefaultWindow time.Duration
	RateLimitAI            int
	RateLimitAIWindow      time.Duration
	RateLimitScraper       int
	RateLimitScraperWindow time.Duration

	// RedisAddr switches rate-limit counters from process memory to a
	// shared Redis store when set (host:port).
	RedisAddr string

	AuthSecret   string
	AuthIssuer   string
	AuthAudience string

	UpstreamBaseURL     string
	UpstreamAPIKey      string
	UpstreamTimeout     time.Duration
	UpstreamSlowTimeout time.Duration

	CacheTTL       time.Duration
	CacheBatchSize int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.Environment, "environment", "production", "development|production")
	fs.StringVar(&c.AllowedOrigins, "allowed-origins", "https://app.reachmetrics.io", "comma-separated CORS allow-list (exact or *.wildcard entries)")
	fs.IntVar(&c.RateLimitDefault, "rate-limit-default", 100, "default policy: requests per window")
	fs.DurationVar(&c.RateLimitDefaultWindow, "rate-limit-default-window", time.Minute, "default policy: window length")
	fs.IntVar(&c.RateLimitAI, "rate-limit-ai", 10, "ai policy: requests per window")
	fs.DurationVar(&c.RateLimitAIWindow, "rate-limit-ai-window", time.Minute, "ai policy: window length")
	fs.IntVar(&c.RateLimitScraper, "rate-limit-scraper", 30, "scraper policy: requests per window")
	fs.DurationVar(&c.RateLimitScraperWindow, "rate-limit-scraper-window", time.Minute, "scraper policy: window length")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for shared rate-limit counters (empty = in-memory)")
	fs.StringVar(&c.AuthSecret, "auth-secret", "", "HS256 signing secret for access tokens")
	fs.StringVar(&c.AuthIssuer, "auth-issuer", "https://auth.reachmetrics.io", "expected token issuer")
	fs.StringVar(&c.AuthAudience, "auth-audience", "reachmetrics-api", "expected token audience")
	fs.StringVar(&c.UpstreamBaseURL, "upstream-base-url", "http://localhost:8090", "scraper service base URL")
	fs.StringVar(&c.UpstreamAPIKey, "upstream-api-key", "", "API key sent to the scraper service")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 15*time.Second, "deadline for interactive upstream reads")
	fs.DurationVar(&c.UpstreamSlowTimeout, "upstream-slow-timeout", 5*time.Minute, "deadline ceiling for batch categorization calls")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", 10*time.Minute, "aggregate cache time-to-live")
	fs.IntVar(&c.CacheBatchSize, "cache-batch-size", 1000, "rows per upstream batch fetch (1..1000)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Development reports whether the permissive development mode is active.
func (c App) Development() bool { return c.Environment == "development" }

// Origins returns the parsed allow-list entries.
func (c App) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.Environment != "development" && c.Environment != "production" {
		errs = append(errs, fmt.Errorf("invalid ENVIRONMENT %q (must be development|production)", c.Environment))
	}

	if !c.Development() && len(c.Origins()) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS required in production"))
	}
	for _, o := range c.Origins() {
		if err := validateOrigin(o); err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range []struct {
		name   string
		limit  int
		window time.Duration
	}{
		{"default", c.RateLimitDefault, c.RateLimitDefaultWindow},
		{"ai", c.RateLimitAI, c.RateLimitAIWindow},
		{"scraper", c.RateLimitScraper, c.RateLimitScraperWindow},
	} {
		if p.limit < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s must be >= 1 (got %d)", strings.ToUpper(p.name), p.limit))
		}
		if p.window < time.Second {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s_WINDOW must be >= 1s (got %s)", strings.ToUpper(p.name), p.window))
		}
	}

	if c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	}

	if u, err := url.Parse(c.UpstreamBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_BASE_URL must be a URL (got %q)", c.UpstreamBaseURL))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be > 0 (got %s)", c.UpstreamTimeout))
	}
	if c.UpstreamSlowTimeout < c.UpstreamTimeout {
		errs = append(errs, fmt.Errorf("UPSTREAM_SLOW_TIMEOUT must be >= UPSTREAM_TIMEOUT (got %s < %s)", c.UpstreamSlowTimeout, c.UpstreamTimeout))
	}

	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be > 0 (got %s)", c.CacheTTL))
	}
	if c.CacheBatchSize < 1 || c.CacheBatchSize > 1000 {
		errs = append(errs, fmt.Errorf("CACHE_BATCH_SIZE must be 1..1000 (got %d)", c.CacheBatchSize))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	if c.EnableTracing && c.OTLPEndpoint == "" {
		errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
	}

	return errors.Join(errs...)
}

// validateOrigin accepts "https://host[:port]" entries and
// "*.domain" wildcard-subdomain patterns.
func validateOrigin(o string) error {
	if strings.HasPrefix(o, "*.") {
		if len(o) < 4 || strings.ContainsAny(o[2:], "/* ") {
			return fmt.Errorf("invalid wildcard origin pattern %q", o)
		}
		return nil
	}
	u, err := url.Parse(o)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" {
		return fmt.Errorf("invalid origin %q (want scheme://host[:port] or *.domain)", o)
	}
	return nil
}
