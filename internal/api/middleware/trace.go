package middleware

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	TraceHeader     = "X-Trace-ID"
	requestIDHeader = "X-Request-ID"
	maxTraceIDLen   = 128
)

// TraceMiddleware propagates the caller's X-Trace-ID (or X-Request-ID, which
// payment gateways tend to send) and mints a ULID when neither is usable.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := cleanTraceID(r.Header.Get(TraceHeader))
		if traceID == "" {
			traceID = cleanTraceID(r.Header.Get(requestIDHeader))
		}
		if traceID == "" {
			traceID = ulid.MustNew(ulid.Now(), rand.Reader).String()
		}
		w.Header().Set(TraceHeader, traceID)
		ctx := context.WithValue(r.Context(), traceContextKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cleanTraceID rejects ids that are oversized or contain anything other than
// printable ASCII, so they can be logged verbatim.
func cleanTraceID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxTraceIDLen {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}
