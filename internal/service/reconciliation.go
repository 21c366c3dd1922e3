package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultSettlementBatch = 100
	defaultPromotionBatch  = 500
	defaultVerifyPageSize  = 500
)

// ReconciliationService bundles the periodic jobs that keep money moving and
// check that stored balances still agree with the ledger.
type ReconciliationService struct {
	store       QueryStore
	payments    *PaymentService
	wallets     *WalletService
	orders      *OrderService
	idempotency IdempotencyPurger
}

// IdempotencyPurger removes idempotency records past their retention.
type IdempotencyPurger interface {
	Purge(ctx context.Context) (int64, error)
}

func NewReconciliationService(store QueryStore, payments *PaymentService, wallets *WalletService, orders *OrderService, purger IdempotencyPurger) *ReconciliationService {
	return &ReconciliationService{
		store:       store,
		payments:    payments,
		wallets:     wallets,
		orders:      orders,
		idempotency: purger,
	}
}

// RetrySettlements re-attempts pending splits whose backoff has elapsed.
func (s *ReconciliationService) RetrySettlements(ctx context.Context) error {
	settled, failed, err := s.payments.RetryDueSettlements(ctx, time.Now(), defaultSettlementBatch)
	if err != nil {
		return err
	}
	if settled+failed > 0 {
		zap.L().Info("split settlement retry run", zap.Int("settled", settled), zap.Int("failed", failed))
	}
	return nil
}

// PromoteHolds releases frozen split credits whose settlement delay elapsed.
func (s *ReconciliationService) PromoteHolds(ctx context.Context) error {
	total := 0
	for {
		n, err := s.wallets.PromoteMatured(ctx, time.Now(), defaultPromotionBatch)
		if err != nil {
			return err
		}
		total += n
		if n < defaultPromotionBatch {
			break
		}
	}
	if total > 0 {
		zap.L().Info("matured holds released", zap.Int("count", total))
	}
	return nil
}

// VerifyWallets replays the ledger for every wallet.
func (s *ReconciliationService) VerifyWallets(ctx context.Context) error {
	checked, mismatched, err := s.wallets.VerifyAll(ctx, defaultVerifyPageSize)
	if err != nil {
		return err
	}
	if mismatched > 0 {
		zap.L().Error("CRITICAL: wallet balance mismatches detected", zap.Int("checked", checked), zap.Int("mismatched", mismatched))
		return nil
	}
	zap.L().Info("wallets balanced", zap.Int("checked", checked))
	return nil
}

// ExpireOrders closes payment orders nobody paid in time.
func (s *ReconciliationService) ExpireOrders(ctx context.Context) error {
	n, err := s.orders.ExpireOrders(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Info("payment orders expired", zap.Int64("count", n))
	}
	return nil
}

// PurgeIdempotencyKeys drops stored API responses past their retention.
func (s *ReconciliationService) PurgeIdempotencyKeys(ctx context.Context) error {
	if s.idempotency == nil {
		return nil
	}
	n, err := s.idempotency.Purge(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Debug("idempotency keys purged", zap.Int64("count", n))
	}
	return nil
}

// ReportManualQueue publishes how much work waits for an operator.
func (s *ReconciliationService) ReportManualQueue(ctx context.Context) error {
	queries := s.store.Queries()
	failedSplits, err := queries.CountSplitsByStatus(ctx, string(domain.SplitStatusFailed))
	if err != nil {
		return fmt.Errorf("count failed splits: %w", err)
	}
	failedWithdrawals, err := queries.CountWithdrawalsByStatus(ctx, string(domain.WithdrawalStatusFailed))
	if err != nil {
		return fmt.Errorf("count failed withdrawals: %w", err)
	}
	pendingReview, err := queries.CountWithdrawalsByStatus(ctx, string(domain.WithdrawalStatusPending))
	if err != nil {
		return fmt.Errorf("count pending withdrawals: %w", err)
	}
	observability.SetManualInterventionQueueSize("failed_splits", failedSplits)
	observability.SetManualInterventionQueueSize("failed_withdrawals", failedWithdrawals)
	observability.SetManualInterventionQueueSize("pending_review", pendingReview)
	return nil
}

// Run executes every job once, in dependency order. Used by the reconcile
// command; the server schedules the jobs individually.
func (s *ReconciliationService) Run(ctx context.Context) error {
	jobs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"retry_settlements", s.RetrySettlements},
		{"promote_holds", s.PromoteHolds},
		{"verify_wallets", s.VerifyWallets},
		{"expire_orders", s.ExpireOrders},
		{"purge_idempotency_keys", s.PurgeIdempotencyKeys},
		{"report_manual_queue", s.ReportManualQueue},
	}
	var errs []error
	for _, job := range jobs {
		if err := job.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.name, err))
		}
	}
	return errors.Join(errs...)
}
