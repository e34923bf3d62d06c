// Package httpmw provides HTTP middleware shared by the API server.
//
// Middleware is composed in a fixed order in httpserver.NewHandler:
// security headers, panic recovery, request ID, client IP extraction,
// tracing, metrics, request-scoped logging, then the chi router. The
// per-route security pipeline (CORS, rate limiting, auth, versioning)
// lives in the secure package and wraps individual handlers inside the
// router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. User-supplied data (query params,
// user-agent) is excluded from logs to prevent PII leaks and log
// injection.
package httpmw
