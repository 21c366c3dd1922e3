package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/legal-settlement/internal/observability"
)

// MetricsMiddleware observes request latency by method, route pattern and status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseRecorder(w)
		next.ServeHTTP(rw, r)
		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}
