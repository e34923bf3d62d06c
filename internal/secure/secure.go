// Package secure composes CORS, rate limiting, authentication, and
// version decoration around business handlers.
//
// The execution order is fixed by Wrap and cannot be changed per route:
// preflight short-circuit, public bypass, rate limit, auth, handler,
// catch-all. Every exit path funnels through a single respond step, so
// no response leaves the wrapper without consistent cross-origin and
// version headers.
package secure

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/reachmetrics/reachmetrics-api/internal/apiversion"
	"github.com/reachmetrics/reachmetrics-api/internal/auth"
	"github.com/reachmetrics/reachmetrics-api/internal/cors"
	"github.com/reachmetrics/reachmetrics-api/internal/httpapi"
	"github.com/reachmetrics/reachmetrics-api/internal/httpmw"
	"github.com/reachmetrics/reachmetrics-api/internal/log"
	"github.com/reachmetrics/reachmetrics-api/internal/ratelimit"
	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// Config enumerates the per-route knobs. Only configuration varies
// between presets; execution order never does.
type Config struct {
	// RequireAuth rejects requests without a valid bearer credential.
	RequireAuth bool
	// Policy names the rate-limit policy ("default", "ai", "scraper").
	Policy string
	// Public marks a route as not requiring identity.
	Public bool
	// SkipPublic skips rate limiting and auth entirely on public
	// routes; CORS and version decoration still apply.
	SkipPublic bool
}

// Presets derived from the primitive by fixing configuration.
var (
	// PublicPreset: unauthenticated routes, default limits skipped.
	PublicPreset = Config{Public: true, SkipPublic: true, Policy: "default"}
	// StandardPreset: authenticated CRUD routes.
	StandardPreset = Config{RequireAuth: true, Policy: "default"}
	// AIPreset: expensive AI-backed operations, stricter limit.
	AIPreset = Config{RequireAuth: true, Policy: "ai"}
	// ScraperPreset: operator/scraper-control operations, own counter.
	ScraperPreset = Config{RequireAuth: true, Policy: "scraper"}
)

// Deps are the pipeline collaborators shared by all wrapped routes.
type Deps struct {
	Verifier auth.Verifier
	Limiter  *ratelimit.Limiter
	CORS     *cors.Policy
	Versions *apiversion.Resolver
	// Development surfaces internal error detail in 500 bodies.
	Development bool

	// OnAuthFailure is called per rejected credential, for metrics.
	OnAuthFailure func()
}

// Wrapper builds wrapped handlers over a fixed set of dependencies.
type Wrapper struct {
	deps Deps
}

func NewWrapper(deps Deps) *Wrapper {
	return &Wrapper{deps: deps}
}

// Wrap returns an http.Handler enforcing the pipeline around h.
func (wr *Wrapper) Wrap(cfg Config, h httpapi.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := wr.deps

		// Resolved once; respond applies them exactly once on the way out.
		decision := d.CORS.Decide(r.Header.Get("Origin"))
		version := d.Versions.Resolve(r)

		// 1. Preflight probes get CORS headers and nothing else. They
		// never touch counters, auth, or the handler.
		if r.Method == http.MethodOptions {
			wr.respond(w, r, decision, version, nil, httpapi.NoContent())
			return
		}

		skipChecks := cfg.Public && cfg.SkipPublic

		// 2. Rate limit. Rejection never reaches auth or the handler.
		var limited *ratelimit.Result
		if !skipChecks {
			res := d.Limiter.Check(r.Context(), callerKey(r), cfg.Policy)
			limited = &res
			if !res.Allowed {
				apiErr := httpapi.Errorf(httpapi.KindRateLimit, "rate limit exceeded").
					WithField("limit", res.Limit).
					WithField("remaining", 0).
					WithField("reset", res.Reset.Unix())
				wr.respond(w, r, decision, version, limited, httpapi.ErrorResponse(apiErr, d.Development))
				return
			}
		}

		// 3. Auth.
		var user *auth.User
		if cfg.RequireAuth && !skipChecks {
			u, err := d.Verifier.Verify(r.Context(), auth.BearerToken(r))
			if err != nil {
				if d.OnAuthFailure != nil {
					d.OnAuthFailure()
				}
				log.FromContext(r.Context()).Warn(r.Context(), "authentication failed")
				apiErr := httpapi.Errorf(httpapi.KindAuth, "authentication required")
				wr.respond(w, r, decision, version, limited, httpapi.ErrorResponse(apiErr, d.Development))
				return
			}
			user = u
			r = r.WithContext(auth.WithUser(r.Context(), user))
		}

		// 4. Handler, with the catch-all guarding it.
		resp := wr.invoke(r, user, h)
		wr.respond(w, r, decision, version, limited, resp)
	})
}

// invoke runs the business handler, converting returned errors and
// recovered panics into the uniform failure response.
func (wr *Wrapper) invoke(r *http.Request, user *auth.User, h httpapi.Handler) (resp *httpapi.Response) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		err, ok := rec.(error)
		if !ok {
			err = xerrors.Newf("panic: %v", rec)
		}
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "handler panic")
		resp = httpapi.ErrorResponse(httpapi.WrapError(httpapi.KindInternal, err, "internal server error"), wr.deps.Development)
	}()

	resp, err := h(r.Context(), r, user)
	if err != nil {
		apiErr := httpapi.AsError(err)
		if apiErr.Kind == httpapi.KindInternal {
			ctx := r.Context()
			log.FromContext(ctx).Error(ctx, err, "handler error")
		}
		return httpapi.ErrorResponse(apiErr, wr.deps.Development)
	}
	if resp == nil {
		return httpapi.ErrorResponse(httpapi.Errorf(httpapi.KindInternal, "handler returned no response"), wr.deps.Development)
	}
	return resp
}

// respond is the single exit point: version decoration, rate-limit
// headers when a limiter ran, CORS headers per the request's decision,
// then the body. Called exactly once per request.
func (wr *Wrapper) respond(w http.ResponseWriter, r *http.Request, d cors.Decision, v apiversion.Version, limited *ratelimit.Result, resp *httpapi.Response) {
	wr.deps.Versions.Decorate(w.Header(), v)
	if limited != nil {
		setRateHeaders(w.Header(), *limited)
	}
	wr.deps.CORS.Apply(w.Header(), d)

	if err := resp.Write(w); err != nil {
		ctx := r.Context()
		log.FromContext(ctx).Warn(ctx, "response write failed", "err", err.Error())
	}
}

func setRateHeaders(h http.Header, res ratelimit.Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// callerKey derives the rate-limit identity from the resolved client
// IP. Limiting runs before authentication so a flood of bad credentials
// never reaches the verifier, which means identity here is always the
// address, never the user.
func callerKey(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// WithDeadline returns a handler running h under a fixed deadline,
// used for routes whose upstream calls get a longer or shorter ceiling
// than the server default.
func WithDeadline(d time.Duration, h httpapi.Handler) httpapi.Handler {
	return func(ctx context.Context, r *http.Request, u *auth.User) (*httpapi.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h(ctx, r.WithContext(ctx), u)
	}
}
