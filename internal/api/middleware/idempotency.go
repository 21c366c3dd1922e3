package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/legal-settlement/internal/api/problem"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayHeader         = "X-Idempotent-Replay"
	maxKeyLen            = 255
	maxIdempotentBody    = 1 << 20
)

// IdempotencyMiddleware makes payment-order creation and withdrawal submission
// safe to retry. The first request with a key runs; later requests with the
// same key and body get the stored response, and a different body is a 409.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || len(key) > maxKeyLen {
				observability.IncrementIdempotencyEvent("missing_key")
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/missing-key"), http.StatusText(http.StatusBadRequest),
					"Idempotency-Key header is required (at most 255 characters)")
				return
			}
			if userID := UserIDFromContext(r.Context()); userID != "" {
				key = userID + ":" + key
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := hashRequest(r.Method, r.URL.Path, body)

			rec, err := store.Lookup(r.Context(), key, hash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				replay(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict),
					"Idempotency-Key was already used with a different request body")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				awaitReplay(w, r, store, logger, key, hash, "replay_after_wait")
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				logger.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, hash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				logger.Error("idempotency reserve failed", zap.Error(err))
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusServiceUnavailable), "idempotency store unavailable")
				return
			}
			if !reserved {
				awaitReplay(w, r, store, logger, key, hash, "replay_after_reserve")
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			capture := &captureWriter{responseRecorder: newResponseRecorder(w)}
			next.ServeHTTP(capture, r)

			// Server errors are not stored: the client should be able to retry.
			if capture.status >= http.StatusInternalServerError {
				if err := store.Release(r.Context(), key); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
				}
				observability.IncrementIdempotencyEvent("released")
				return
			}

			contentType := capture.Header().Get("Content-Type")
			if contentType == "" {
				contentType = "application/json"
			}
			if _, err := store.Finalize(r.Context(), key, hash, capture.status, capture.body.Bytes(), contentType); err != nil {
				observability.IncrementIdempotencyEvent("finalize_error")
				logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
				return
			}
			observability.IncrementIdempotencyEvent("finalized")
		})
	}
}

func awaitReplay(w http.ResponseWriter, r *http.Request, store *idempotency.Store, logger *zap.Logger, key, hash, outcome string) {
	rec, err := store.WaitForCompletion(r.Context(), key, hash)
	if err == nil {
		observability.IncrementIdempotencyEvent(outcome)
		replay(w, rec)
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), http.StatusText(http.StatusConflict),
		"a request with this Idempotency-Key is still being processed")
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + "|" + path + "|"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter keeps a copy of the response body for Finalize.
type captureWriter struct {
	*responseRecorder
	body bytes.Buffer
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.responseRecorder.Write(b)
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
