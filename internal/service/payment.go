package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/legal-settlement/internal/calculator"
	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SettlementConfig controls how a payment is divided and when the shares
// become withdrawable.
type SettlementConfig struct {
	Table          calculator.Table
	PlatformUserID uuid.UUID
	// Delay returns how long a role's credit stays frozen. Zero credits the
	// withdrawable bucket directly.
	Delay func(domain.Role) time.Duration
	Retry RetryPolicy
}

// PaymentService records confirmed payments and disburses their commission
// splits into beneficiary wallets.
type PaymentService struct {
	store     QueryStore
	guard     *idempotency.Guard
	wallets   *WalletService
	audit     *AuditService
	publisher events.Publisher
	cfg       SettlementConfig

	// beforeCredit runs ahead of each split credit; tests use it to fail
	// disbursement on purpose.
	beforeCredit func(repository.CommissionSplit) error
}

func NewPaymentService(store QueryStore, guard *idempotency.Guard, wallets *WalletService, publisher events.Publisher, cfg SettlementConfig) *PaymentService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &PaymentService{
		store:     store,
		guard:     guard,
		wallets:   wallets,
		audit:     NewAuditService(store),
		publisher: publisher,
		cfg:       cfg,
	}
}

// PaymentInput describes a payment confirmed by a gateway.
type PaymentInput struct {
	CaseRef      string
	OrderNo      string
	Amount       domain.Money
	Gateway      string
	GatewayTxnID string
	Metadata     map[string]string
}

// RecordPayment admits a confirmed payment exactly once, creates its pending
// commission splits and then disburses them. When the gateway transaction was
// already recorded the existing transaction id is returned together with
// domain.ErrDuplicatePayment.
//
// A disbursement failure does not fail the call: the payment stays recorded
// and its splits stay pending for the retry job.
func (s *PaymentService) RecordPayment(ctx context.Context, in PaymentInput) (uuid.UUID, error) {
	if !in.Amount.Positive() {
		return uuid.Nil, fmt.Errorf("%w: payment amount must be positive", domain.ErrInvalidAmount)
	}
	in.CaseRef = strings.TrimSpace(in.CaseRef)
	in.OrderNo = strings.TrimSpace(in.OrderNo)

	metadata, err := json.Marshal(in.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	var admission idempotency.Admission
	var splits []calculator.Split
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var order *repository.PaymentOrder
		if in.OrderNo != "" {
			o, err := qtx.GetPaymentOrderByNoForUpdate(ctx, in.OrderNo)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, in.OrderNo)
				}
				return fmt.Errorf("lock payment order: %w", err)
			}
			if o.Amount != int64(in.Amount) {
				return fmt.Errorf("%w: order %s expects %s, gateway reported %s", domain.ErrPaymentMismatch, o.OrderNo, domain.Money(o.Amount), in.Amount)
			}
			if in.CaseRef != "" && in.CaseRef != o.CaseRef {
				return fmt.Errorf("%w: order %s belongs to case %s", domain.ErrPaymentMismatch, o.OrderNo, o.CaseRef)
			}
			in.CaseRef = o.CaseRef
			order = &o
		}
		if in.CaseRef == "" {
			return fmt.Errorf("%w: case reference is required", domain.ErrCaseNotFound)
		}

		caseRef := in.CaseRef
		params := repository.InsertTransactionParams{
			ID:           repository.ToPgUUID(uuid.New()),
			CaseRef:      &caseRef,
			Amount:       int64(in.Amount),
			Currency:     domain.Currency,
			Type:         string(domain.TxTypePayment),
			Status:       string(domain.TxStatusCompleted),
			Gateway:      in.Gateway,
			GatewayTxnID: in.GatewayTxnID,
			Metadata:     metadata,
			CompletedAt:  repository.Timestamptz(time.Now()),
		}
		if order != nil {
			params.OrderID = order.ID
		}

		var err error
		admission, err = s.guard.Admit(ctx, qtx, params)
		if err != nil {
			return err
		}
		if !admission.Admitted {
			return nil
		}

		beneficiaries, err := s.beneficiaries(ctx, qtx, in.CaseRef)
		if err != nil {
			return err
		}
		splits, err = calculator.ComputeSplits(in.Amount, s.cfg.Table, beneficiaries)
		if err != nil {
			return err
		}

		for _, split := range splits {
			if _, err := qtx.InsertSplit(ctx, repository.InsertSplitParams{
				ID:            repository.ToPgUUID(uuid.New()),
				TransactionID: params.ID,
				BeneficiaryID: repository.ToPgUUID(split.BeneficiaryID),
				Role:          string(split.Role),
				Amount:        int64(split.Amount),
				Percentage:    repository.ToPgNumeric(split.Percentage),
				Status:        string(domain.SplitStatusPending),
			}); err != nil {
				return fmt.Errorf("insert %s split: %w", split.Role, err)
			}
		}

		if order != nil {
			rows, err := qtx.MarkPaymentOrderPaid(ctx, order.ID, params.ID)
			if err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			if rows == 0 {
				zap.L().Warn("payment received for an order that is already paid",
					zap.String("order_no", order.OrderNo),
					zap.String("gateway_txn_id", in.GatewayTxnID),
				)
			}
		}

		return s.audit.Write(ctx, qtx, auditTransaction, admission.TransactionID, nil, "payment_recorded", "", string(domain.TxStatusCompleted), metadata)
	})
	if err != nil {
		return uuid.Nil, err
	}

	if !admission.Admitted {
		s.guard.Remember(ctx, in.Gateway, in.GatewayTxnID, admission.TransactionID)
		return admission.TransactionID, domain.ErrDuplicatePayment
	}

	s.guard.Remember(ctx, in.Gateway, in.GatewayTxnID, admission.TransactionID)
	zap.L().Info("payment recorded",
		zap.String("transaction_id", admission.TransactionID.String()),
		zap.String("case_ref", in.CaseRef),
		zap.String("amount", in.Amount.String()),
	)

	// Settle while the caller's budget is fresh; events go out afterwards.
	if err := s.SettleTransaction(ctx, admission.TransactionID); err != nil {
		zap.L().Warn("split disbursement deferred to retry",
			zap.String("transaction_id", admission.TransactionID.String()),
			zap.Error(err),
		)
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.TypePaymentRecorded,
		EntityID: admission.TransactionID,
		Amount:   in.Amount,
		Status:   string(domain.TxStatusCompleted),
		Metadata: map[string]string{"case_ref": in.CaseRef, "gateway": in.Gateway, "splits": fmt.Sprint(len(splits))},
	})
	return admission.TransactionID, nil
}

func (s *PaymentService) beneficiaries(ctx context.Context, qtx *repository.Queries, caseRef string) (calculator.Beneficiaries, error) {
	b := calculator.Beneficiaries{domain.RolePlatform: s.cfg.PlatformUserID}
	parties, err := qtx.GetCaseParties(ctx, caseRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("no parties registered for case; platform receives the full amount", zap.String("case_ref", caseRef))
			return b, nil
		}
		return nil, fmt.Errorf("load case parties: %w", err)
	}
	if parties.LawyerID.Valid {
		b[domain.RoleLawyer] = repository.FromPgUUID(parties.LawyerID)
	}
	if parties.SalesID.Valid {
		b[domain.RoleSales] = repository.FromPgUUID(parties.SalesID)
	}
	if parties.InstitutionID.Valid {
		b[domain.RoleInstitution] = repository.FromPgUUID(parties.InstitutionID)
	}
	return b, nil
}

func (s *PaymentService) delayFor(role domain.Role) time.Duration {
	if s.cfg.Delay == nil {
		return 0
	}
	return s.cfg.Delay(role)
}

// SettleTransaction credits every pending split of a transaction. All wallet
// credits and split transitions commit together or not at all. On failure the
// splits are rescheduled, or failed once the retry budget is spent.
func (s *PaymentService) SettleTransaction(ctx context.Context, transactionID uuid.UUID) error {
	now := time.Now()
	var settled []repository.CommissionSplit
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.ListSplitsByTransactionForUpdate(ctx, repository.ToPgUUID(transactionID))
		if err != nil {
			return fmt.Errorf("lock splits: %w", err)
		}
		pending := pendingSplits(rows)
		if len(pending) == 0 {
			return nil
		}
		// Wallets are always locked in ascending user order.
		sort.SliceStable(pending, func(i, j int) bool {
			return repository.FromPgUUID(pending[i].BeneficiaryID).String() < repository.FromPgUUID(pending[j].BeneficiaryID).String()
		})

		for _, split := range pending {
			if s.beforeCredit != nil {
				if err := s.beforeCredit(split); err != nil {
					return err
				}
			}
			if err := s.creditSplit(ctx, qtx, split, now); err != nil {
				return err
			}
		}

		metadata, _ := json.Marshal(map[string]int{"splits": len(pending)})
		if err := s.audit.Write(ctx, qtx, auditTransaction, transactionID, nil, "splits_settled", string(domain.SplitStatusPending), string(domain.SplitStatusPaid), metadata); err != nil {
			return err
		}
		settled = pending
		return nil
	})
	if err != nil {
		observability.IncrementSplitSettlement("failed")
		s.recordSettlementFailure(context.WithoutCancel(ctx), transactionID, err)
		return fmt.Errorf("%w: transaction %s: %w", domain.ErrDisbursementFailure, transactionID, err)
	}
	if len(settled) == 0 {
		return nil
	}

	observability.IncrementSplitSettlement("settled")
	var total domain.Money
	for _, split := range settled {
		total += domain.Money(split.Amount)
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.TypeSplitsSettled,
		EntityID: transactionID,
		Amount:   total,
		Status:   string(domain.SplitStatusPaid),
	})
	return nil
}

func (s *PaymentService) creditSplit(ctx context.Context, qtx *repository.Queries, split repository.CommissionSplit, now time.Time) error {
	splitID := repository.FromPgUUID(split.ID)
	beneficiaryID := repository.FromPgUUID(split.BeneficiaryID)
	amount := domain.Money(split.Amount)
	delay := s.delayFor(domain.Role(split.Role))

	delta := Credit(amount)
	if delay > 0 {
		delta = CreditFrozen(amount)
	}
	entry, err := s.wallets.ApplyInTx(ctx, qtx, beneficiaryID, delta, domain.ReasonSplitCredit, splitID)
	if err != nil {
		return fmt.Errorf("credit split %s: %w", splitID, err)
	}

	if delay > 0 {
		if _, err := qtx.InsertHold(ctx, repository.InsertHoldParams{
			ID:        repository.ToPgUUID(uuid.New()),
			UserID:    split.BeneficiaryID,
			SplitID:   split.ID,
			Amount:    split.Amount,
			ReleaseAt: repository.Timestamptz(now.Add(delay)),
		}); err != nil {
			return fmt.Errorf("hold split %s: %w", splitID, err)
		}
	}

	rows, err := qtx.MarkSplitPaid(ctx, repository.MarkSplitPaidParams{
		ID:                  split.ID,
		PayoutMethod:        domain.PayoutMethodWallet,
		PayoutTransactionID: entry.ID,
	})
	if err != nil {
		return fmt.Errorf("mark split %s paid: %w", splitID, err)
	}
	return requireExactlyOne(rows, "mark split paid")
}

func (s *PaymentService) recordSettlementFailure(ctx context.Context, transactionID uuid.UUID, cause error) {
	var attempt int
	var exhausted bool
	var amount domain.Money
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.ListSplitsByTransactionForUpdate(ctx, repository.ToPgUUID(transactionID))
		if err != nil {
			return fmt.Errorf("lock splits: %w", err)
		}
		pending := pendingSplits(rows)
		if len(pending) == 0 {
			return nil
		}
		for _, split := range pending {
			if int(split.AttemptCount) > attempt {
				attempt = int(split.AttemptCount)
			}
			amount += domain.Money(split.Amount)
		}
		attempt++

		pgID := repository.ToPgUUID(transactionID)
		if s.cfg.Retry.Exhausted(attempt) {
			exhausted = true
			if _, err := qtx.FailSplits(ctx, repository.FailSplitsParams{
				TransactionID: pgID,
				AttemptCount:  int32(attempt),
				ReasonCode:    domain.ReasonCodeRetriesExhausted,
				LastError:     cause.Error(),
			}); err != nil {
				return fmt.Errorf("fail splits: %w", err)
			}
			metadata, _ := json.Marshal(map[string]any{"attempts": attempt, "error": cause.Error()})
			return s.audit.Write(ctx, qtx, auditTransaction, transactionID, nil, "splits_failed", string(domain.SplitStatusPending), string(domain.SplitStatusFailed), metadata)
		}

		_, err = qtx.ScheduleSplitRetry(ctx, repository.ScheduleSplitRetryParams{
			TransactionID: pgID,
			AttemptCount:  int32(attempt),
			NextAttemptAt: repository.Timestamptz(time.Now().Add(s.cfg.Retry.Delay(attempt))),
			LastError:     cause.Error(),
		})
		if err != nil {
			return fmt.Errorf("schedule split retry: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Error("failed to record split disbursement failure",
			zap.String("transaction_id", transactionID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	if attempt == 0 {
		return
	}

	if exhausted {
		observability.IncrementDisbursementExhausted("split")
		zap.L().Error("split disbursement retries exhausted; manual intervention required",
			zap.String("transaction_id", transactionID.String()),
			zap.Int("attempts", attempt),
			zap.Error(cause),
		)
		events.Emit(ctx, s.publisher, events.Event{
			Type:     events.TypeSplitsFailed,
			EntityID: transactionID,
			Amount:   amount,
			Status:   string(domain.SplitStatusFailed),
			Metadata: map[string]string{"reason_code": domain.ReasonCodeRetriesExhausted},
		})
		return
	}
	zap.L().Warn("split disbursement failed; retry scheduled",
		zap.String("transaction_id", transactionID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", s.cfg.Retry.Delay(attempt)),
		zap.Error(cause),
	)
}

// RetryDueSettlements re-attempts transactions whose pending splits are due.
func (s *PaymentService) RetryDueSettlements(ctx context.Context, now time.Time, limit int32) (settled, failed int, err error) {
	ids, err := s.store.Queries().ListDueSplitTransactions(ctx, repository.Timestamptz(now), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list due settlements: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return settled, failed, err
		}
		if err := s.SettleTransaction(ctx, repository.FromPgUUID(id)); err != nil {
			failed++
			continue
		}
		settled++
	}
	return settled, failed, nil
}

// Transaction loads a recorded transaction with its splits.
func (s *PaymentService) Transaction(ctx context.Context, id uuid.UUID) (repository.Transaction, []repository.CommissionSplit, error) {
	queries := s.store.Queries()
	tx, err := queries.GetTransaction(ctx, repository.ToPgUUID(id))
	if err != nil {
		return repository.Transaction{}, nil, err
	}
	splits, err := queries.ListSplitsByTransaction(ctx, tx.ID)
	if err != nil {
		return repository.Transaction{}, nil, fmt.Errorf("list splits: %w", err)
	}
	return tx, splits, nil
}

func pendingSplits(rows []repository.CommissionSplit) []repository.CommissionSplit {
	pending := make([]repository.CommissionSplit, 0, len(rows))
	for _, split := range rows {
		if split.Status == string(domain.SplitStatusPending) {
			pending = append(pending, split)
		}
	}
	return pending
}
