package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/legal-settlement/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

func limitExceeded(rps int, subject string) httprate.Option {
	return httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, subject))
	})
}

// WebhookRateLimiter limits gateway callbacks per source IP and gateway, so a
// redelivery storm from one gateway cannot starve another.
func WebhookRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP, func(r *http.Request) (string, error) {
			return chi.URLParam(r, "gateway"), nil
		}),
		limitExceeded(rps, "IP"),
	)
}

// AuthRateLimiter keys on the authenticated user, falling back to the IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		limitExceeded(rps, "user"),
	)
}
