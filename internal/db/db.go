package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	connectAttempts = 5
	connectTimeout  = 5 * time.Second
)

// Connect opens a pgx pool sized for the API plus the payout worker and
// scheduler, retrying while Postgres is still starting. Pool settings given
// in the URL (pool_max_conns and friends) win over these defaults.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if !strings.Contains(dbURL, "pool_max_conns") {
		config.MaxConns = 20
	}
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err := open(ctx, config)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		zap.L().Warn("database not reachable yet", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", connectAttempts, lastErr)
}

func open(ctx context.Context, config *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
