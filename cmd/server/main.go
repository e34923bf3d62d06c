package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/reachmetrics/reachmetrics-api/internal/api"
	"github.com/reachmetrics/reachmetrics-api/internal/apiversion"
	"github.com/reachmetrics/reachmetrics-api/internal/auth"
	"github.com/reachmetrics/reachmetrics-api/internal/cfg"
	"github.com/reachmetrics/reachmetrics-api/internal/cors"
	"github.com/reachmetrics/reachmetrics-api/internal/health"
	"github.com/reachmetrics/reachmetrics-api/internal/httpmw"
	"github.com/reachmetrics/reachmetrics-api/internal/httpserver"
	"github.com/reachmetrics/reachmetrics-api/internal/log"
	"github.com/reachmetrics/reachmetrics-api/internal/metrics"
	"github.com/reachmetrics/reachmetrics-api/internal/opshttp"
	"github.com/reachmetrics/reachmetrics-api/internal/otelx"
	"github.com/reachmetrics/reachmetrics-api/internal/prof"
	"github.com/reachmetrics/reachmetrics-api/internal/ratelimit"
	"github.com/reachmetrics/reachmetrics-api/internal/scraperapi"
	"github.com/reachmetrics/reachmetrics-api/internal/secure"
	v "github.com/reachmetrics/reachmetrics-api/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s)\n",
			v.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix REACH_ and validate
	cfg.FillFromEnv(flag.CommandLine, "REACH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"environment", conf.Environment,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"redis_addr", conf.RedisAddr,
		"upstream_base_url", conf.UpstreamBaseURL,
		"cache_ttl", conf.CacheTTL,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:        conf.EnableTracing,
		Endpoint:       conf.OTLPEndpoint,
		Insecure:       true,
		SampleRatio:    conf.TraceSample,
		ServiceName:    v.AppName,
		ServiceVersion: vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfo(v.AppName, "server", &vi)

	// Rate-limit counters: shared Redis store when configured, otherwise
	// per-instance memory
	var store ratelimit.Store
	var redisClient *redis.Client
	if conf.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// fail open like the limiter itself: a dead redis at boot
			// should not keep the API down
			L.Error(ctx, err, "redis ping failed, limiter will fail open until it recovers", "redis_addr", conf.RedisAddr)
		}
		store = ratelimit.NewRedisStore(redisClient, v.AppName)
		L.Info(ctx, "rate limiting against shared redis store", "redis_addr", conf.RedisAddr)
	} else {
		store = ratelimit.NewMemoryStore(ctx)
		L.Info(ctx, "rate limiting against in-process counters")
	}

	limiter := ratelimit.New(store,
		[]ratelimit.Policy{
			{Name: "default", Limit: conf.RateLimitDefault, Window: conf.RateLimitDefaultWindow},
			{Name: "ai", Limit: conf.RateLimitAI, Window: conf.RateLimitAIWindow},
			{Name: "scraper", Limit: conf.RateLimitScraper, Window: conf.RateLimitScraperWindow},
		},
		ratelimit.WithOnDenied(m.IncRateLimitDenied),
	)

	verifier, err := auth.NewJWTVerifier(auth.JWTOptions{
		Secret:   conf.AuthSecret,
		Issuer:   conf.AuthIssuer,
		Audience: conf.AuthAudience,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build token verifier")
		os.Exit(1)
	}

	corsPolicy := cors.New(cors.Options{
		AllowedOrigins: conf.Origins(),
		Development:    conf.Development(),
	})

	versions := apiversion.NewResolver("v1", map[apiversion.Version]apiversion.Meta{
		"v1": {},
		"v0": {
			Deprecated:    true,
			Sunset:        time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
			MigrationDocs: "https://docs.reachmetrics.io/api/migrating-to-v1",
		},
	})

	upstream, err := scraperapi.New(scraperapi.Options{
		BaseURL: conf.UpstreamBaseURL,
		APIKey:  conf.UpstreamAPIKey,
		// pace batched cache refills below the upstream's own limits
		PaceRPS:   20,
		PaceBurst: 5,
		OnError:   m.IncUpstreamError,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build scraper client", "upstream_base_url", conf.UpstreamBaseURL)
		os.Exit(1)
	}

	apiSrv := api.New(api.Options{
		Upstream:       upstream,
		ReadTimeout:    conf.UpstreamTimeout,
		SlowTimeout:    conf.UpstreamSlowTimeout,
		CacheTTL:       conf.CacheTTL,
		CacheBatchSize: conf.CacheBatchSize,
		OnCacheHit:     m.IncCacheHit,
		OnCacheMiss:    m.IncCacheMiss,
		OnCacheStale:   m.IncCacheStale,
	})

	wrapper := secure.NewWrapper(secure.Deps{
		Verifier:      verifier,
		Limiter:       limiter,
		CORS:          corsPolicy,
		Versions:      versions,
		Development:   conf.Development(),
		OnAuthFailure: m.IncAuthFailure,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:    L,
		Port:      conf.HTTPPort,
		Health:    health.Fixed(true, ""),
		Readiness: readiness,
		// one load balancer in front of us resolves the caller address
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: 1},
		APIRoutes: func(r chi.Router) {
			apiSrv.RegisterRoutes(r, wrapper)
		},
		MetricsMW: m.Middleware,
		OnPanic:   m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// admin/ops listener for metrics, health checks and pprof; the
	// security group restricts inbound to internal monitoring infra
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, sleeping 30s for in-flight requests and health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			L.Error(context.Background(), err, "redis client close")
		}
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when we were started with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
