package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Admission is the outcome of presenting a gateway transaction to the Guard.
type Admission struct {
	Admitted      bool
	TransactionID uuid.UUID
}

// Guard admits each (gateway, gateway_txn_id) pair exactly once.
//
// The unique constraint on transactions(gateway, gateway_txn_id) is the only
// authority: the admission record is the transaction insert itself, made in the
// caller's database transaction. Redis only remembers admitted pairs so that
// redeliveries can be acknowledged without touching Postgres.
type Guard struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewGuard(redis redis.Cmdable, ttl time.Duration) *Guard {
	return &Guard{redis: redis, ttl: ttl}
}

// Admit inserts the transaction row described by arg. When the pair already
// exists the existing transaction id is returned with Admitted=false; that is
// not an error.
func (g *Guard) Admit(ctx context.Context, qtx *repository.Queries, arg repository.InsertTransactionParams) (Admission, error) {
	arg.Gateway = strings.TrimSpace(arg.Gateway)
	arg.GatewayTxnID = strings.TrimSpace(arg.GatewayTxnID)
	if arg.Gateway == "" || arg.GatewayTxnID == "" {
		return Admission{}, domain.ErrInvalidGatewayTxnID
	}

	id, err := qtx.InsertTransaction(ctx, arg)
	if err == nil {
		return Admission{Admitted: true, TransactionID: repository.FromPgUUID(id)}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Admission{}, fmt.Errorf("insert transaction: %w", err)
	}

	existing, err := qtx.GetTransactionByGatewayTxn(ctx, arg.Gateway, arg.GatewayTxnID)
	if err != nil {
		return Admission{}, fmt.Errorf("load admitted transaction: %w", err)
	}
	return Admission{Admitted: false, TransactionID: repository.FromPgUUID(existing.ID)}, nil
}

// Seen reports a previously remembered admission. A miss or Redis error means
// "unknown", never "new".
func (g *Guard) Seen(ctx context.Context, gateway, gatewayTxnID string) (uuid.UUID, bool) {
	if g == nil || g.redis == nil {
		return uuid.Nil, false
	}
	val, err := g.redis.Get(ctx, guardKey(gateway, gatewayTxnID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis admission lookup failed", zap.Error(err))
		}
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Remember caches an admission after its database transaction committed.
func (g *Guard) Remember(ctx context.Context, gateway, gatewayTxnID string, transactionID uuid.UUID) {
	if g == nil || g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, guardKey(gateway, gatewayTxnID), transactionID.String(), g.ttl).Err(); err != nil {
		zap.L().Warn("redis admission cache set failed", zap.Error(err))
	}
}

func guardKey(gateway, gatewayTxnID string) string {
	return fmt.Sprintf("gateway:%s:%s", strings.TrimSpace(gateway), strings.TrimSpace(gatewayTxnID))
}
