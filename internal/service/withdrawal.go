package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/models"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// WithdrawalConfig tunes risk review and payout dispatch.
type WithdrawalConfig struct {
	AutoApproveThreshold int
	PayoutGateway        string
	Retry                RetryPolicy
	// Lease is how long a claimed request stays invisible to other workers.
	Lease time.Duration
}

// WithdrawalService runs the withdrawal request state machine and moves the
// frozen funds that back each request.
type WithdrawalService struct {
	store     QueryStore
	wallets   *WalletService
	gateway   gateway.Gateway
	audit     *AuditService
	publisher events.Publisher
	cfg       WithdrawalConfig
}

type ResolveDecision string

const (
	DecisionConfirmSent  ResolveDecision = "confirm_sent"
	DecisionRefundFailed ResolveDecision = "refund_failed"
)

var (
	ErrInvalidResolveDecision = errors.New("invalid resolve decision")
	ErrNotResolvable          = errors.New("withdrawal is not awaiting manual resolution")
	ErrInvalidWithdrawal      = errors.New("invalid withdrawal request")
)

const defaultPayoutLease = 2 * time.Minute

func NewWithdrawalService(store QueryStore, wallets *WalletService, gw gateway.Gateway, publisher events.Publisher, cfg WithdrawalConfig) *WithdrawalService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultPayoutLease
	}
	if cfg.PayoutGateway == "" {
		cfg.PayoutGateway = "mock"
	}
	return &WithdrawalService{
		store:     store,
		wallets:   wallets,
		gateway:   gw,
		audit:     NewAuditService(store),
		publisher: publisher,
		cfg:       cfg,
	}
}

type SubmitWithdrawalInput struct {
	UserID  uuid.UUID
	Amount  domain.Money
	Method  string
	Account string
}

func (in SubmitWithdrawalInput) validate() error {
	if !in.Amount.Positive() {
		return fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrInvalidAmount)
	}
	if !domain.WithdrawalMethods[in.Method] {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidWithdrawal, in.Method)
	}
	if strings.TrimSpace(in.Account) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidWithdrawal)
	}
	return nil
}

// Submit freezes the requested amount and creates the request. Low-risk
// requests are approved immediately; the rest wait for an administrator.
func (s *WithdrawalService) Submit(ctx context.Context, in SubmitWithdrawalInput) (*models.WithdrawalRequest, error) {
	in.Method = strings.ToLower(strings.TrimSpace(in.Method))
	in.Account = strings.TrimSpace(in.Account)
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created repository.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		pgUserID := repository.ToPgUUID(in.UserID)
		if err := qtx.EnsureWallet(ctx, pgUserID); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
		wallet, err := qtx.GetWalletForUpdate(ctx, pgUserID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.WithdrawableBalance < int64(in.Amount) {
			return domain.ErrInsufficientBalance
		}

		history, err := qtx.GetWithdrawalHistory(ctx, repository.GetWithdrawalHistoryParams{
			UserID:  pgUserID,
			Since:   repository.Timestamptz(time.Now().Add(-24 * time.Hour)),
			Account: in.Account,
		})
		if err != nil {
			return fmt.Errorf("load withdrawal history: %w", err)
		}
		score := ScoreWithdrawal(RiskInput{
			Amount:           in.Amount,
			AverageCompleted: domain.Money(history.AverageCompleted),
			CompletedCount:   history.CompletedCount,
			RecentCount:      history.RecentCount,
			FirstUseAccount:  history.CompletedToAccount == 0,
			Method:           in.Method,
		})
		auto := score < s.cfg.AutoApproveThreshold

		params := repository.InsertWithdrawalParams{
			ID:              repository.ToPgUUID(uuid.New()),
			UserID:          pgUserID,
			Amount:          int64(in.Amount),
			Method:          in.Method,
			Account:         in.Account,
			AccountVerified: history.CompletedToAccount > 0,
			Status:          string(domain.WithdrawalStatusPending),
			RiskScore:       int32(score),
			AutoApproved:    auto,
		}
		if auto {
			params.Status = string(domain.WithdrawalStatusApproved)
			params.ProcessedAt = repository.Timestamptz(time.Now())
		}
		created, err = qtx.InsertWithdrawal(ctx, params)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		if _, err := s.wallets.ApplyInTx(ctx, qtx, in.UserID, Freeze(in.Amount), domain.ReasonWithdrawalHold, repository.FromPgUUID(created.ID)); err != nil {
			return err
		}

		metadata, _ := json.Marshal(map[string]any{"risk_score": score, "auto_approved": auto})
		return s.audit.Write(ctx, qtx, auditWithdrawal, repository.FromPgUUID(created.ID), &in.UserID, "submitted", "", created.Status, metadata)
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementWithdrawalTransition("submitted")
	if created.AutoApproved {
		observability.IncrementWithdrawalTransition("auto_approved")
	}
	s.emit(ctx, events.TypeWithdrawalSubmitted, created)
	zap.L().Info("withdrawal submitted",
		zap.String("withdrawal_id", repository.FromPgUUID(created.ID).String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("amount", in.Amount.String()),
		zap.Int32("risk_score", created.RiskScore),
		zap.Bool("auto_approved", created.AutoApproved),
	)
	m := created.Model()
	return &m, nil
}

// Approve moves a pending request into the payout queue.
func (s *WithdrawalService) Approve(ctx context.Context, id, adminID uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	return s.decide(ctx, id, adminID, notes, domain.WithdrawalStatusApproved)
}

// Reject closes a pending request and returns its frozen funds.
func (s *WithdrawalService) Reject(ctx context.Context, id, adminID uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	return s.decide(ctx, id, adminID, notes, domain.WithdrawalStatusRejected)
}

func (s *WithdrawalService) decide(ctx context.Context, id, adminID uuid.UUID, notes string, next domain.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	action := "approved"
	if next == domain.WithdrawalStatusRejected {
		action = "rejected"
	}

	var updated repository.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := lockWithdrawal(ctx, qtx, id)
		if err != nil {
			return err
		}

		metadata, err := marshalReasonMetadata(notes)
		if err != nil {
			return fmt.Errorf("marshal decision metadata: %w", err)
		}
		err = transitionWithdrawal(ctx, qtx, s.audit, w, next, &adminID, action, metadata, func() (int64, error) {
			return qtx.UpdateWithdrawalDecision(ctx, repository.UpdateWithdrawalDecisionParams{
				ID:         w.ID,
				Status:     string(next),
				AdminID:    repository.ToPgUUID(adminID),
				AdminNotes: textParam(notes),
			})
		})
		if err != nil {
			return err
		}

		if next == domain.WithdrawalStatusRejected {
			if _, err := s.wallets.ApplyInTx(ctx, qtx, repository.FromPgUUID(w.UserID), Unfreeze(domain.Money(w.Amount)), domain.ReasonWithdrawalRelease, id); err != nil {
				return err
			}
		}

		updated, err = qtx.GetWithdrawal(ctx, w.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementWithdrawalTransition(action)
	eventType := events.TypeWithdrawalApproved
	if next == domain.WithdrawalStatusRejected {
		eventType = events.TypeWithdrawalRejected
	}
	s.emit(ctx, eventType, updated)
	m := updated.Model()
	return &m, nil
}

// Complete records a confirmed payout: the frozen amount leaves the wallet and
// a payout transaction keyed by the gateway reference is written.
func (s *WithdrawalService) Complete(ctx context.Context, id uuid.UUID, gatewayRef string, actorID *uuid.UUID) (*models.WithdrawalRequest, error) {
	gatewayRef = strings.TrimSpace(gatewayRef)
	if gatewayRef == "" {
		return nil, fmt.Errorf("%w: gateway reference is required", ErrInvalidWithdrawal)
	}

	var updated repository.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := lockWithdrawal(ctx, qtx, id)
		if err != nil {
			return err
		}
		updated, err = s.completeInTx(ctx, qtx, w, gatewayRef, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterComplete(ctx, updated)
	m := updated.Model()
	return &m, nil
}

func (s *WithdrawalService) completeInTx(ctx context.Context, qtx *repository.Queries, w repository.WithdrawalRequest, gatewayRef string, actorID *uuid.UUID) (repository.WithdrawalRequest, error) {
	id := repository.FromPgUUID(w.ID)
	if derefString(w.ReasonCode) == domain.ReasonCodeGatewayRejected {
		return repository.WithdrawalRequest{}, ErrNotResolvable
	}
	metadata, _ := json.Marshal(map[string]string{"gateway_ref": gatewayRef})

	payoutTxID, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID:           repository.ToPgUUID(uuid.New()),
		Amount:       w.Amount,
		Currency:     domain.Currency,
		Type:         string(domain.TxTypePayout),
		Status:       string(domain.TxStatusCompleted),
		Gateway:      s.cfg.PayoutGateway,
		GatewayTxnID: gatewayRef,
		Metadata:     metadata,
		CompletedAt:  repository.Timestamptz(time.Now()),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.WithdrawalRequest{}, fmt.Errorf("%w: payout reference %s already recorded", domain.ErrDuplicatePayment, gatewayRef)
		}
		return repository.WithdrawalRequest{}, fmt.Errorf("insert payout transaction: %w", err)
	}

	err = transitionWithdrawal(ctx, qtx, s.audit, w, domain.WithdrawalStatusCompleted, actorID, "completed", metadata, func() (int64, error) {
		return qtx.CompleteWithdrawal(ctx, repository.CompleteWithdrawalParams{
			ID:                  w.ID,
			GatewayRef:          gatewayRef,
			PayoutTransactionID: payoutTxID,
		})
	})
	if err != nil {
		return repository.WithdrawalRequest{}, err
	}

	if _, err := s.wallets.ApplyInTx(ctx, qtx, repository.FromPgUUID(w.UserID), DebitFrozen(domain.Money(w.Amount)), domain.ReasonWithdrawalPayout, id); err != nil {
		return repository.WithdrawalRequest{}, err
	}
	return qtx.GetWithdrawal(ctx, w.ID)
}

func (s *WithdrawalService) afterComplete(ctx context.Context, w repository.WithdrawalRequest) {
	observability.IncrementWithdrawalTransition("completed")
	s.emit(ctx, events.TypeWithdrawalCompleted, w)
	zap.L().Info("withdrawal completed",
		zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()),
		zap.String("gateway_ref", derefString(w.GatewayRef)),
	)
}

type ResolveWithdrawalInput struct {
	ID         uuid.UUID
	Decision   ResolveDecision
	AdminID    uuid.UUID
	Notes      string
	GatewayRef string
}

// Resolve settles a failed request whose funds are still frozen: either the
// payout did reach the beneficiary, or the funds go back to the wallet.
func (s *WithdrawalService) Resolve(ctx context.Context, in ResolveWithdrawalInput) (*models.WithdrawalRequest, error) {
	if in.Decision != DecisionConfirmSent && in.Decision != DecisionRefundFailed {
		return nil, ErrInvalidResolveDecision
	}

	var updated repository.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := lockWithdrawal(ctx, qtx, in.ID)
		if err != nil {
			return err
		}
		if w.Status != string(domain.WithdrawalStatusFailed) || derefString(w.ReasonCode) == domain.ReasonCodeGatewayRejected {
			return ErrNotResolvable
		}

		if in.Decision == DecisionConfirmSent {
			ref := strings.TrimSpace(in.GatewayRef)
			if ref == "" {
				ref = derefString(w.GatewayRef)
			}
			if ref == "" {
				return fmt.Errorf("%w: gateway reference is required to confirm a payout", ErrInvalidWithdrawal)
			}
			updated, err = s.completeInTx(ctx, qtx, w, ref, &in.AdminID)
			return err
		}

		metadata, err := marshalReasonMetadata(in.Notes)
		if err != nil {
			return fmt.Errorf("marshal resolve metadata: %w", err)
		}
		err = transitionWithdrawal(ctx, qtx, s.audit, w, domain.WithdrawalStatusRejected, &in.AdminID, "refunded", metadata, func() (int64, error) {
			return qtx.RejectFailedWithdrawal(ctx, repository.RejectFailedWithdrawalParams{
				ID:         w.ID,
				AdminID:    repository.ToPgUUID(in.AdminID),
				AdminNotes: textParam(in.Notes),
			})
		})
		if err != nil {
			return err
		}
		if _, err := s.wallets.ApplyInTx(ctx, qtx, repository.FromPgUUID(w.UserID), Unfreeze(domain.Money(w.Amount)), domain.ReasonWithdrawalRelease, in.ID); err != nil {
			return err
		}
		updated, err = qtx.GetWithdrawal(ctx, w.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if in.Decision == DecisionConfirmSent {
		s.afterComplete(ctx, updated)
	} else {
		observability.IncrementWithdrawalTransition("refunded")
		s.emit(ctx, events.TypeWithdrawalRejected, updated)
	}
	m := updated.Model()
	return &m, nil
}

// Get returns a single request.
func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := s.store.Queries().GetWithdrawal(ctx, repository.ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	m := w.Model()
	return &m, nil
}

// ProcessPayouts claims a batch of approved requests and sends each to the
// payout gateway. Claims are leases: a request whose worker dies becomes due
// again once the lease lapses.
func (s *WithdrawalService) ProcessPayouts(ctx context.Context, batchSize int32) error {
	now := time.Now()
	claimed, err := s.store.Queries().ClaimDueWithdrawals(ctx, repository.ClaimDueWithdrawalsParams{
		Now:        repository.Timestamptz(now),
		LeaseUntil: repository.Timestamptz(now.Add(s.cfg.Lease)),
		Limit:      batchSize,
	})
	if err != nil {
		return fmt.Errorf("claim due withdrawals: %w", err)
	}

	for i, w := range claimed {
		if err := ctx.Err(); err != nil {
			s.requeue(context.WithoutCancel(ctx), claimed[i:])
			return err
		}

		id := repository.FromPgUUID(w.ID)
		ref, err := s.gateway.SendPayout(ctx, gateway.PayoutRequest{
			Reference: id,
			Method:    w.Method,
			Account:   w.Account,
			Amount:    domain.Money(w.Amount),
		})
		switch {
		case err == nil:
			if _, err := s.Complete(ctx, id, ref, nil); err != nil {
				s.finalizeFailed(context.WithoutCancel(ctx), w, ref, err)
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			s.requeue(context.WithoutCancel(ctx), claimed[i:])
			return err
		case errors.Is(err, domain.ErrPayoutRejected):
			s.rejectByGateway(ctx, w, err)
		default:
			s.retryOrFail(ctx, w, err)
		}
	}
	return nil
}

func (s *WithdrawalService) requeue(ctx context.Context, claimed []repository.WithdrawalRequest) {
	for _, w := range claimed {
		if _, err := s.store.Queries().ScheduleWithdrawalRetry(ctx, repository.ScheduleWithdrawalRetryParams{
			ID:            w.ID,
			AttemptCount:  w.AttemptCount,
			NextAttemptAt: repository.Timestamptz(time.Now()),
			LastError:     derefString(w.LastError),
		}); err != nil {
			zap.L().Error("failed to requeue claimed withdrawal", zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()), zap.Error(err))
		}
	}
}

// retryOrFail handles a transient gateway error. Once retries are spent the
// request fails with its funds still frozen, awaiting Resolve.
func (s *WithdrawalService) retryOrFail(ctx context.Context, w repository.WithdrawalRequest, cause error) {
	id := repository.FromPgUUID(w.ID)
	attempt := int(w.AttemptCount) + 1

	if !s.cfg.Retry.Exhausted(attempt) {
		backoff := s.cfg.Retry.Delay(attempt)
		if _, err := s.store.Queries().ScheduleWithdrawalRetry(ctx, repository.ScheduleWithdrawalRetryParams{
			ID:            w.ID,
			AttemptCount:  int32(attempt),
			NextAttemptAt: repository.Timestamptz(time.Now().Add(backoff)),
			LastError:     cause.Error(),
		}); err != nil {
			zap.L().Error("failed to schedule payout retry", zap.String("withdrawal_id", id.String()), zap.Error(err))
			return
		}
		zap.L().Warn("payout failed; retry scheduled",
			zap.String("withdrawal_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(cause),
		)
		return
	}

	if err := s.fail(ctx, w, attempt, domain.ReasonCodeRetriesExhausted, cause.Error(), nil, false); err != nil {
		zap.L().Error("failed to mark withdrawal failed", zap.String("withdrawal_id", id.String()), zap.Error(err))
		return
	}
	observability.IncrementDisbursementExhausted("withdrawal")
	zap.L().Error("payout retries exhausted; manual intervention required",
		zap.String("withdrawal_id", id.String()),
		zap.Int("attempts", attempt),
		zap.Error(cause),
	)
}

func (s *WithdrawalService) rejectByGateway(ctx context.Context, w repository.WithdrawalRequest, cause error) {
	if err := s.fail(ctx, w, int(w.AttemptCount)+1, domain.ReasonCodeGatewayRejected, cause.Error(), nil, true); err != nil {
		zap.L().Error("failed to record gateway rejection", zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()), zap.Error(err))
		return
	}
	zap.L().Warn("payout rejected by gateway; funds returned", zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()), zap.Error(cause))
}

// finalizeFailed covers a payout the gateway accepted but that could not be
// recorded locally. Funds stay frozen so the money cannot leave twice.
func (s *WithdrawalService) finalizeFailed(ctx context.Context, w repository.WithdrawalRequest, gatewayRef string, cause error) {
	if err := s.fail(ctx, w, int(w.AttemptCount)+1, domain.ReasonCodeFinalizeFailed, cause.Error(), &gatewayRef, false); err != nil {
		zap.L().Error("failed to record payout finalization failure",
			zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()),
			zap.String("gateway_ref", gatewayRef),
			zap.Error(err),
		)
		return
	}
	observability.IncrementDisbursementExhausted("withdrawal_finalize")
	zap.L().Error("payout sent but local finalization failed; manual intervention required",
		zap.String("withdrawal_id", repository.FromPgUUID(w.ID).String()),
		zap.String("gateway_ref", gatewayRef),
		zap.Error(cause),
	)
}

func (s *WithdrawalService) fail(ctx context.Context, claimed repository.WithdrawalRequest, attempt int, reasonCode, lastError string, gatewayRef *string, release bool) error {
	var updated repository.WithdrawalRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := lockWithdrawal(ctx, qtx, repository.FromPgUUID(claimed.ID))
		if err != nil {
			return err
		}
		metadata, _ := json.Marshal(map[string]any{"reason_code": reasonCode, "error": lastError, "attempts": attempt})
		err = transitionWithdrawal(ctx, qtx, s.audit, w, domain.WithdrawalStatusFailed, nil, "failed", metadata, func() (int64, error) {
			return qtx.FailWithdrawal(ctx, repository.FailWithdrawalParams{
				ID:           w.ID,
				AttemptCount: int32(attempt),
				ReasonCode:   reasonCode,
				LastError:    lastError,
				GatewayRef:   gatewayRef,
			})
		})
		if err != nil {
			return err
		}
		if release {
			if _, err := s.wallets.ApplyInTx(ctx, qtx, repository.FromPgUUID(w.UserID), Unfreeze(domain.Money(w.Amount)), domain.ReasonWithdrawalRelease, repository.FromPgUUID(w.ID)); err != nil {
				return err
			}
		}
		updated, err = qtx.GetWithdrawal(ctx, w.ID)
		return err
	})
	if err != nil {
		return err
	}
	observability.IncrementWithdrawalTransition("failed")
	s.emit(ctx, events.TypeWithdrawalFailed, updated)
	return nil
}

func (s *WithdrawalService) emit(ctx context.Context, eventType string, w repository.WithdrawalRequest) {
	userID := repository.FromPgUUID(w.UserID)
	meta := map[string]string{"method": w.Method}
	if w.ReasonCode != nil {
		meta["reason_code"] = *w.ReasonCode
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type:     eventType,
		EntityID: repository.FromPgUUID(w.ID),
		UserID:   &userID,
		Amount:   domain.Money(w.Amount),
		Status:   w.Status,
		Metadata: meta,
	})
}

func lockWithdrawal(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (repository.WithdrawalRequest, error) {
	w, err := qtx.GetWithdrawalForUpdate(ctx, repository.ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.WithdrawalRequest{}, domain.ErrWithdrawalNotFound
		}
		return repository.WithdrawalRequest{}, fmt.Errorf("lock withdrawal: %w", err)
	}
	return w, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
