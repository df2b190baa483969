package api

import (
	"companion-backend/internal/metrics"
	"companion-backend/pkg/httputil"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// --- Metrics Middleware ---

// MetricsMiddleware counts every request by method, matched route pattern and status.
// Route patterns keep label cardinality bounded, unlike raw paths with user IDs.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTP(r.Method, route, strconv.Itoa(status))
		})
	}
}

// --- JSON Body Limit Middleware ---

// JSONBodyLimit rejects JSON requests whose declared body exceeds maxBytes and
// caps the readable body for the rest.
func JSONBodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				log.Printf("Body Limit Middleware: Rejected %d byte body on %s", r.ContentLength, r.URL.Path)
				httputil.RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
