package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecordPaymentSplitsAndPromotesAfterDelay(t *testing.T) {
	f := newFixture(t, withDelay(168*time.Hour))
	ctx := context.Background()

	txID := f.pay(t, 500000, "wx-5000")

	byRole := map[string]repository.CommissionSplit{}
	for _, split := range f.splits(t, txID) {
		byRole[split.Role] = split
		require.Equal(t, string(domain.SplitStatusPaid), split.Status)
		require.Equal(t, domain.PayoutMethodWallet, *split.PayoutMethod)
	}
	require.Len(t, byRole, 3)
	require.Equal(t, int64(150000), byRole["platform"].Amount)
	require.Equal(t, int64(100000), byRole["lawyer"].Amount)
	require.Equal(t, int64(250000), byRole["institution"].Amount)
	require.NotContains(t, byRole, "sales")

	lawyer := f.wallet(t, f.lawyer)
	require.Equal(t, int64(100000), lawyer.Balance)
	require.Equal(t, int64(0), lawyer.WithdrawableBalance)
	require.Equal(t, int64(100000), lawyer.FrozenBalance)
	require.Equal(t, int64(100000), lawyer.TotalEarned)
	require.Equal(t, int32(1), lawyer.CommissionCount)

	released, err := f.wallets.PromoteMatured(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	require.Zero(t, released)

	released, err = f.wallets.PromoteMatured(ctx, time.Now().Add(169*time.Hour), 100)
	require.NoError(t, err)
	require.Equal(t, 3, released)

	lawyer = f.wallet(t, f.lawyer)
	require.Equal(t, int64(100000), lawyer.WithdrawableBalance)
	require.Equal(t, int64(0), lawyer.FrozenBalance)

	for _, user := range []uuid.UUID{f.platform, f.lawyer, f.institution} {
		ok, err := f.wallets.Verify(ctx, user)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestRecordPaymentWithoutDelayCreditsWithdrawable(t *testing.T) {
	f := newFixture(t)

	f.pay(t, 10001, "wx-odd")

	require.Equal(t, int64(2000), f.wallet(t, f.lawyer).WithdrawableBalance)
	require.Equal(t, int64(5000), f.wallet(t, f.institution).WithdrawableBalance)
	require.Equal(t, int64(3001), f.wallet(t, f.platform).WithdrawableBalance)
	require.Zero(t, f.count(t, `SELECT COUNT(*) FROM wallet_holds`))
}

func TestRecordPaymentReplayIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pay(t, 500000, "wx-replay")

	const deliveries = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = f.payments.RecordPayment(ctx, PaymentInput{
				CaseRef:      f.caseRef,
				Amount:       500000,
				Gateway:      "wechat",
				GatewayTxnID: "wx-replay",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		require.ErrorIs(t, errs[i], domain.ErrDuplicatePayment)
		require.Equal(t, first, ids[i])
	}
	require.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM transactions WHERE gateway_txn_id = 'wx-replay'`))
	require.Equal(t, int64(3), f.count(t, `SELECT COUNT(*) FROM commission_splits`))
	require.Equal(t, int64(100000), f.wallet(t, f.lawyer).Balance)
}

func TestRecordPaymentConcurrentFirstDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const deliveries = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	ids := make([]uuid.UUID, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i], errs[i] = f.payments.RecordPayment(ctx, PaymentInput{
				CaseRef:      f.caseRef,
				Amount:       500000,
				Gateway:      "wechat",
				GatewayTxnID: "wx-race",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var admitted int
	for i := 0; i < deliveries; i++ {
		if errs[i] == nil {
			admitted++
			continue
		}
		require.ErrorIs(t, errs[i], domain.ErrDuplicatePayment)
	}
	require.Equal(t, 1, admitted)
	for i := 1; i < deliveries; i++ {
		require.Equal(t, ids[0], ids[i])
	}
	require.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM transactions WHERE gateway_txn_id = 'wx-race'`))
	require.Equal(t, int64(3), f.count(t, `SELECT COUNT(*) FROM commission_splits`))
	require.Equal(t, int64(100000), f.wallet(t, f.lawyer).Balance)
	require.Equal(t, int64(250000), f.wallet(t, f.institution).Balance)
}

// stallingPublisher holds every publish until its context gives up.
type stallingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *stallingPublisher) Publish(ctx context.Context, _ events.Event) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (p *stallingPublisher) Close() error { return nil }

func TestRecordPaymentSettlesDespiteStalledPublisher(t *testing.T) {
	old := events.PublishTimeout
	events.PublishTimeout = 50 * time.Millisecond
	t.Cleanup(func() { events.PublishTimeout = old })

	pub := &stallingPublisher{}
	f := newFixture(t, withPublisher(pub))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	txID, err := f.payments.RecordPayment(ctx, PaymentInput{
		CaseRef:      f.caseRef,
		Amount:       500000,
		Gateway:      "wechat",
		GatewayTxnID: "wx-stalled-sink",
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err())

	splits := f.splits(t, txID)
	require.Len(t, splits, 3)
	for _, split := range splits {
		require.Equal(t, string(domain.SplitStatusPaid), split.Status)
	}
	require.Equal(t, int64(100000), f.wallet(t, f.lawyer).WithdrawableBalance)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.GreaterOrEqual(t, pub.calls, 2)
}

func TestRecordPaymentSameTxnIDOnDifferentGateways(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pay(t, 1000, "shared-id")
	_, err := f.payments.RecordPayment(ctx, PaymentInput{CaseRef: f.caseRef, Amount: 1000, Gateway: "alipay", GatewayTxnID: "shared-id"})
	require.NoError(t, err)
	require.Equal(t, int64(2), f.count(t, `SELECT COUNT(*) FROM transactions`))
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.payments.RecordPayment(ctx, PaymentInput{CaseRef: f.caseRef, Amount: 0, Gateway: "wechat", GatewayTxnID: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.payments.RecordPayment(ctx, PaymentInput{CaseRef: f.caseRef, Amount: 100, Gateway: "wechat", GatewayTxnID: " "})
	require.ErrorIs(t, err, domain.ErrInvalidGatewayTxnID)

	_, err = f.payments.RecordPayment(ctx, PaymentInput{Amount: 100, Gateway: "wechat", GatewayTxnID: "no-case"})
	require.ErrorIs(t, err, domain.ErrCaseNotFound)

	_, err = f.payments.RecordPayment(ctx, PaymentInput{OrderNo: "ORD-MISSING", Amount: 100, Gateway: "wechat", GatewayTxnID: "no-order"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.Zero(t, f.count(t, `SELECT COUNT(*) FROM transactions`))
}

func TestRecordPaymentForUnknownCasePaysPlatform(t *testing.T) {
	f := newFixture(t)

	_, err := f.payments.RecordPayment(context.Background(), PaymentInput{CaseRef: "CASE-UNSYNCED", Amount: 7777, Gateway: "wechat", GatewayTxnID: "wx-unsynced"})
	require.NoError(t, err)
	require.Equal(t, int64(7777), f.wallet(t, f.platform).Balance)
}

func TestRecordPaymentMatchesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.orders.CreatePaymentOrder(ctx, CreateOrderInput{
		PayerID: uuid.New(),
		CaseRef: f.caseRef,
		Amount:  500000,
		Method:  "wechat",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.NotEmpty(t, order.QRCode)

	_, err = f.payments.RecordPayment(ctx, PaymentInput{OrderNo: order.OrderNo, Amount: 499999, Gateway: "wechat", GatewayTxnID: "wx-short"})
	require.ErrorIs(t, err, domain.ErrPaymentMismatch)

	txID, err := f.payments.RecordPayment(ctx, PaymentInput{OrderNo: order.OrderNo, Amount: 500000, Gateway: "wechat", GatewayTxnID: "wx-order"})
	require.NoError(t, err)

	row, err := f.store.Queries().GetPaymentOrderByNo(ctx, order.OrderNo)
	require.NoError(t, err)
	require.Equal(t, string(domain.OrderStatusPaid), row.Status)
	require.Equal(t, txID, repository.FromPgUUID(row.TransactionID))

	tx, err := f.store.Queries().GetTransaction(ctx, repository.ToPgUUID(txID))
	require.NoError(t, err)
	require.Equal(t, f.caseRef, *tx.CaseRef)
}

func TestSettlementFailureRollsBackEverySplit(t *testing.T) {
	f := newFixture(t, withRetry(RetryPolicy{Base: 10 * time.Second, Cap: time.Minute, MaxAttempts: 3}))
	ctx := context.Background()

	f.payments.beforeCredit = func(split repository.CommissionSplit) error {
		if split.Role == string(domain.RoleInstitution) {
			return errors.New("wallet store unavailable")
		}
		return nil
	}

	txID := f.pay(t, 500000, "wx-flaky")

	for _, split := range f.splits(t, txID) {
		require.Equal(t, string(domain.SplitStatusPending), split.Status)
		require.Equal(t, int32(1), split.AttemptCount)
		require.NotNil(t, split.LastError)
	}
	require.Zero(t, f.count(t, `SELECT COUNT(*) FROM wallet_ledger_entries`))

	// Not yet due.
	settled, failed, err := f.payments.RetryDueSettlements(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Zero(t, settled+failed)

	f.payments.beforeCredit = nil
	settled, failed, err = f.payments.RetryDueSettlements(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.Zero(t, failed)

	for _, split := range f.splits(t, txID) {
		require.Equal(t, string(domain.SplitStatusPaid), split.Status)
	}
	require.Equal(t, int64(250000), f.wallet(t, f.institution).Balance)
}

func TestSettlementRetriesExhaust(t *testing.T) {
	f := newFixture(t, withRetry(RetryPolicy{Base: time.Second, Cap: time.Minute, MaxAttempts: 2}))
	ctx := context.Background()

	f.payments.beforeCredit = func(repository.CommissionSplit) error {
		return errors.New("ledger offline")
	}

	txID := f.pay(t, 1000, "wx-doomed")

	settled, failed, err := f.payments.RetryDueSettlements(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, settled)
	require.Equal(t, 1, failed)

	for _, split := range f.splits(t, txID) {
		require.Equal(t, string(domain.SplitStatusFailed), split.Status)
		require.Equal(t, int32(2), split.AttemptCount)
		require.Equal(t, domain.ReasonCodeRetriesExhausted, *split.ReasonCode)
	}

	// Failed splits are never picked up again.
	settled, failed, err = f.payments.RetryDueSettlements(ctx, time.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, settled+failed)
	require.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM audit_log WHERE action = 'splits_failed'`))
}
