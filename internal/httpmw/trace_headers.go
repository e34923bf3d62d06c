package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Response headers carrying the active trace identity. Support tooling
// looks these up when a dashboard user reports a failed request.
const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders stamps the active trace and span IDs on every
// response served inside a valid trace.
func TraceResponseHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
				w.Header().Set(TraceIDHeader, sc.TraceID().String())
				w.Header().Set(SpanIDHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
