package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/api/problem"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded("ip", rps)),
	)
}

// AuthRateLimiter limits session-authenticated users by user ID.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded("user", rps)),
	)
}

// SolveRateLimiter limits CAPTCHA clients per API token, so one leaked or
// runaway token cannot starve the owner's other tokens.
func SolveRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tokenID := APITokenIDFromContext(r.Context()); tokenID != "" {
				return "token:" + tokenID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded("api_token", rps)),
	)
}

func limitExceeded(scope string, rps int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		observability.IncrementRateLimited(scope)
		w.Header().Set("Retry-After", strconv.Itoa(1))
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scopeNoun(scope)))
	}
}

func scopeNoun(scope string) string {
	switch scope {
	case "ip":
		return "IP"
	case "api_token":
		return "API token"
	default:
		return scope
	}
}
