package httpmw

import (
	"net/http"
	"time"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
)

// statusWriter captures status and bytes written for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WithLogger attaches a request-scoped logger enriched with request
// identity fields to the context, so every downstream log line carries
// them without repetition.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			L := base.With(
				"request_id", RequestIDFromContext(ctx),
				"client.address", ClientIPFromContext(ctx),
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog emits one line per completed request with status, size, and
// latency. Runs inside WithLogger so the line carries request identity.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			ctx := r.Context()
			log.FromContext(ctx).Info(ctx, "request complete",
				"http.response.status_code", status,
				"http.response.body.size", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
