package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests that no route claimed, so random paths do
// not create new series.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records latency per route pattern and tracks in-flight
// requests.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		done := observability.TrackInFlight()
		defer done()
		rw := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.Status(), time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
