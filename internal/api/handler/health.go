package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = time.Second

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db    *pgxpool.Pool
	redis redis.Cmdable
}

func NewHealthHandler(db *pgxpool.Pool, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready is 200 only when Postgres answers. Redis is reported and must answer
// too when configured: webhook fast-path and idempotency caching depend on it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	res := readiness{Status: "ready", Checks: map[string]string{}}
	fail := func(name string) {
		res.Status = "unavailable"
		res.Checks[name] = "down"
	}

	if h.db == nil || h.db.Ping(ctx) != nil {
		fail("postgres")
	} else {
		res.Checks["postgres"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			fail("redis")
		} else {
			res.Checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if res.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, res)
}
