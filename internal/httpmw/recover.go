package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// Recover is the outer safety net for panics that escape the per-route
// pipeline (which has its own catch-all). It logs the panic with its
// stack and serves a bare 500; onPanic is for metrics.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					// the server uses this to abort in-flight writes; re-raise
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}
				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				}
				L.Error(r.Context(), err, "recovered panic",
					"url.path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
