package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func submit(f *fixture, user uuid.UUID, amount domain.Money) error {
	_, err := f.withdrawals.Submit(context.Background(), SubmitWithdrawalInput{
		UserID: user, Amount: amount, Method: "alipay", Account: "lawyer@example.com",
	})
	return err
}

func TestSubmitFullBalanceThenOneFen(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.fund(t, user, 100000)

	require.NoError(t, submit(f, user, 100000))
	require.ErrorIs(t, submit(f, user, 1), domain.ErrInsufficientBalance)

	w := f.wallet(t, user)
	require.Equal(t, int64(100000), w.Balance)
	require.Equal(t, int64(0), w.WithdrawableBalance)
	require.Equal(t, int64(100000), w.FrozenBalance)
	require.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM withdrawal_requests`))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 0, Method: "alipay", Account: "a"})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 1, Method: "paypal", Account: "a"})
	require.ErrorIs(t, err, ErrInvalidWithdrawal)

	_, err = f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 1, Method: "bank", Account: "  "})
	require.ErrorIs(t, err, ErrInvalidWithdrawal)

	_, err = f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 1, Method: "bank", Account: "6222"})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestConcurrentWithdrawalsOverInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.fund(t, user, 100000)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdrawals.Submit(context.Background(), SubmitWithdrawalInput{
				UserID: user, Amount: 60000, Method: "wechat", Account: "wx-openid",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, insufficient)
	w := f.wallet(t, user)
	require.Equal(t, int64(40000), w.WithdrawableBalance)
	require.Equal(t, int64(60000), w.FrozenBalance)
}

func TestSubmitRiskScoreDecidesAutoApproval(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, withThreshold(40))
	user := uuid.New()
	f.fund(t, user, 100000)
	w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 1000, Method: "alipay", Account: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, 35, w.RiskScore)
	require.True(t, w.AutoApproved)
	require.Equal(t, domain.WithdrawalStatusApproved, w.Status)

	w, err = f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 1000, Method: "bank", Account: "6222000011112222"})
	require.NoError(t, err)
	require.Equal(t, 50, w.RiskScore)
	require.False(t, w.AutoApproved)
	require.Equal(t, domain.WithdrawalStatusPending, w.Status)
}

func TestRejectReleasesHold(t *testing.T) {
	f := newFixture(t, withThreshold(0))
	ctx := context.Background()
	user, admin := uuid.New(), uuid.New()
	f.fund(t, user, 5000)

	w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 3000, Method: "alipay", Account: "a"})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalStatusPending, w.Status)

	rejected, err := f.withdrawals.Reject(ctx, w.ID, admin, "documents missing")
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalStatusRejected, rejected.Status)
	require.Equal(t, "documents missing", rejected.AdminNotes)

	wallet := f.wallet(t, user)
	require.Equal(t, int64(5000), wallet.WithdrawableBalance)
	require.Equal(t, int64(0), wallet.FrozenBalance)

	_, err = f.withdrawals.Approve(ctx, w.ID, admin, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.withdrawals.Approve(ctx, uuid.New(), admin, "")
	require.ErrorIs(t, err, domain.ErrWithdrawalNotFound)

	ok, err := f.wallets.Verify(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestApprovedWithdrawalIsPaidOut(t *testing.T) {
	f := newFixture(t, withThreshold(0))
	ctx := context.Background()
	user, admin := uuid.New(), uuid.New()
	f.fund(t, user, 100000)

	w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 100000, Method: "alipay", Account: "a"})
	require.NoError(t, err)

	// Pending requests are never dispatched.
	require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))
	require.Zero(t, f.gateway.calls)

	_, err = f.withdrawals.Approve(ctx, w.ID, admin, "ok")
	require.NoError(t, err)
	require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))

	done, err := f.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
	require.NotEmpty(t, done.GatewayRef)

	wallet := f.wallet(t, user)
	require.Equal(t, int64(0), wallet.Balance)
	require.Equal(t, int64(0), wallet.FrozenBalance)
	require.Equal(t, int64(100000), wallet.TotalWithdrawn)

	require.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM transactions WHERE type = 'payout' AND gateway_txn_id = $1`, done.GatewayRef))
	ok, err := f.wallets.Verify(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)

	// Completed is terminal.
	_, err = f.withdrawals.Complete(ctx, w.ID, "another-ref", nil)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGatewayRejectionFailsAndReleases(t *testing.T) {
	f := newFixture(t, withThreshold(100))
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, 2000)
	f.gateway.setPayoutErr(fmt.Errorf("%w: account closed", domain.ErrPayoutRejected))

	w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 2000, Method: "wechat", Account: "wx"})
	require.NoError(t, err)
	require.True(t, w.AutoApproved)

	require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))

	failed, err := f.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalStatusFailed, failed.Status)
	require.Equal(t, domain.ReasonCodeGatewayRejected, failed.ReasonCode)
	require.Equal(t, int64(2000), f.wallet(t, user).WithdrawableBalance)

	_, err = f.withdrawals.Resolve(ctx, ResolveWithdrawalInput{ID: w.ID, Decision: DecisionRefundFailed, AdminID: uuid.New()})
	require.ErrorIs(t, err, ErrNotResolvable)
}

func TestTransientPayoutErrorSchedulesRetry(t *testing.T) {
	f := newFixture(t, withThreshold(100), withRetry(RetryPolicy{Base: time.Minute, Cap: time.Hour, MaxAttempts: 5}))
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, 2000)
	f.gateway.setPayoutErr(errors.New("connection reset"))

	w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 2000, Method: "wechat", Account: "wx"})
	require.NoError(t, err)

	require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))
	require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))
	require.Equal(t, 1, f.gateway.calls)

	row, err := f.store.Queries().GetWithdrawal(ctx, repository.ToPgUUID(w.ID))
	require.NoError(t, err)
	require.Equal(t, string(domain.WithdrawalStatusApproved), row.Status)
	require.Equal(t, int32(1), row.AttemptCount)
	require.True(t, row.NextAttemptAt.Time.After(time.Now().Add(30*time.Second)))
	require.Equal(t, "connection reset", *row.LastError)
}

func TestExhaustedPayoutAwaitsResolution(t *testing.T) {
	ctx := context.Background()
	exhaustAfterOne := withRetry(RetryPolicy{Base: time.Second, Cap: time.Minute, MaxAttempts: 1})

	t.Run("refund", func(t *testing.T) {
		f := newFixture(t, withThreshold(100), exhaustAfterOne)
		user, admin := uuid.New(), uuid.New()
		f.fund(t, user, 2000)
		f.gateway.setPayoutErr(errors.New("timeout"))

		w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 2000, Method: "wechat", Account: "wx"})
		require.NoError(t, err)
		require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))

		failed, err := f.withdrawals.Get(ctx, w.ID)
		require.NoError(t, err)
		require.Equal(t, domain.WithdrawalStatusFailed, failed.Status)
		require.Equal(t, domain.ReasonCodeRetriesExhausted, failed.ReasonCode)
		require.Equal(t, int64(2000), f.wallet(t, user).FrozenBalance)

		_, err = f.withdrawals.Resolve(ctx, ResolveWithdrawalInput{ID: w.ID, Decision: "maybe", AdminID: admin})
		require.ErrorIs(t, err, ErrInvalidResolveDecision)

		resolved, err := f.withdrawals.Resolve(ctx, ResolveWithdrawalInput{ID: w.ID, Decision: DecisionRefundFailed, AdminID: admin, Notes: "bank confirmed no transfer"})
		require.NoError(t, err)
		require.Equal(t, domain.WithdrawalStatusRejected, resolved.Status)

		wallet := f.wallet(t, user)
		require.Equal(t, int64(2000), wallet.WithdrawableBalance)
		require.Equal(t, int64(0), wallet.FrozenBalance)
	})

	t.Run("confirm sent", func(t *testing.T) {
		f := newFixture(t, withThreshold(100), exhaustAfterOne)
		user, admin := uuid.New(), uuid.New()
		f.fund(t, user, 2000)
		f.gateway.setPayoutErr(errors.New("timeout"))

		w, err := f.withdrawals.Submit(ctx, SubmitWithdrawalInput{UserID: user, Amount: 2000, Method: "wechat", Account: "wx"})
		require.NoError(t, err)
		require.NoError(t, f.withdrawals.ProcessPayouts(ctx, 10))

		_, err = f.withdrawals.Resolve(ctx, ResolveWithdrawalInput{ID: w.ID, Decision: DecisionConfirmSent, AdminID: admin})
		require.ErrorIs(t, err, ErrInvalidWithdrawal)

		resolved, err := f.withdrawals.Resolve(ctx, ResolveWithdrawalInput{ID: w.ID, Decision: DecisionConfirmSent, AdminID: admin, GatewayRef: "WX-MANUAL-1"})
		require.NoError(t, err)
		require.Equal(t, domain.WithdrawalStatusCompleted, resolved.Status)
		require.Equal(t, "WX-MANUAL-1", resolved.GatewayRef)

		wallet := f.wallet(t, user)
		require.Equal(t, int64(0), wallet.Balance)
		require.Equal(t, int64(2000), wallet.TotalWithdrawn)
	})
}
