package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/legal-settlement/internal/calculator"
	"github.com/ayo6706/legal-settlement/internal/db"
	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

var testTables = []string{
	"audit_log", "idempotency_keys", "wallet_holds", "wallet_ledger_entries", "withdrawal_requests",
	"commission_splits", "transactions", "payment_orders", "wallets", "case_parties",
}

// setupTestDB connects to DATABASE_URL, applies the schema and empties every table.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	for _, table := range testTables {
		_, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "truncate %s", table)
	}
	return pool
}

var defaultTestTable = func() calculator.Table {
	table, err := calculator.ParseTable("platform=0.30,lawyer=0.20,sales=0.00,institution=0.50")
	if err != nil {
		panic(err)
	}
	return table
}()

type fixture struct {
	pool        *pgxpool.Pool
	store       *repository.Store
	wallets     *WalletService
	payments    *PaymentService
	withdrawals *WithdrawalService
	orders      *OrderService
	gateway     *stubGateway

	caseRef     string
	platform    uuid.UUID
	lawyer      uuid.UUID
	sales       uuid.UUID
	institution uuid.UUID
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	delay     time.Duration
	threshold int
	retry     RetryPolicy
	publisher events.Publisher
}

func withPublisher(p events.Publisher) fixtureOption {
	return func(c *fixtureConfig) { c.publisher = p }
}

func withDelay(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.delay = d }
}

func withThreshold(n int) fixtureOption {
	return func(c *fixtureConfig) { c.threshold = n }
}

func withRetry(p RetryPolicy) fixtureOption {
	return func(c *fixtureConfig) { c.retry = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{threshold: 40, retry: DefaultRetryPolicy}
	for _, opt := range opts {
		opt(&cfg)
	}

	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	gw := &stubGateway{}
	wallets := NewWalletService(store, cfg.publisher)
	f := &fixture{
		pool:        pool,
		store:       store,
		wallets:     wallets,
		gateway:     gw,
		caseRef:     "CASE-" + uuid.NewString()[:8],
		platform:    uuid.New(),
		lawyer:      uuid.New(),
		sales:       uuid.New(),
		institution: uuid.New(),
	}
	f.payments = NewPaymentService(store, idempotency.NewGuard(nil, time.Hour), wallets, cfg.publisher, SettlementConfig{
		Table:          defaultTestTable,
		PlatformUserID: f.platform,
		Delay:          func(domain.Role) time.Duration { return cfg.delay },
		Retry:          cfg.retry,
	})
	f.withdrawals = NewWithdrawalService(store, wallets, gw, nil, WithdrawalConfig{
		AutoApproveThreshold: cfg.threshold,
		PayoutGateway:        "mock",
		Retry:                cfg.retry,
		Lease:                time.Minute,
	})
	f.orders = NewOrderService(store, gw, 30*time.Minute)

	require.NoError(t, f.orders.RegisterCaseParties(context.Background(), f.caseRef, f.lawyer, f.sales, f.institution))
	return f
}

// pay records a payment for the fixture's case and fails the test on error.
func (f *fixture) pay(t *testing.T, amount domain.Money, gatewayTxnID string) uuid.UUID {
	t.Helper()
	id, err := f.payments.RecordPayment(context.Background(), PaymentInput{
		CaseRef:      f.caseRef,
		Amount:       amount,
		Gateway:      "wechat",
		GatewayTxnID: gatewayTxnID,
	})
	require.NoError(t, err)
	return id
}

// fund credits withdrawable money straight into a wallet.
func (f *fixture) fund(t *testing.T, userID uuid.UUID, amount domain.Money) {
	t.Helper()
	_, err := f.wallets.Apply(context.Background(), userID, Credit(amount), domain.ReasonSplitCredit, uuid.New())
	require.NoError(t, err)
}

func (f *fixture) wallet(t *testing.T, userID uuid.UUID) repository.Wallet {
	t.Helper()
	w, err := f.wallets.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func (f *fixture) splits(t *testing.T, transactionID uuid.UUID) []repository.CommissionSplit {
	t.Helper()
	rows, err := f.store.Queries().ListSplitsByTransaction(context.Background(), repository.ToPgUUID(transactionID))
	require.NoError(t, err)
	return rows
}

func (f *fixture) count(t *testing.T, sql string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.pool.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

// stubGateway answers payouts with a fixed outcome.
type stubGateway struct {
	mu        sync.Mutex
	payoutErr error
	calls     int
}

func (g *stubGateway) setPayoutErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payoutErr = err
}

func (g *stubGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	if !gateway.SupportedMethod(req.Method) {
		return nil, gateway.ErrUnsupportedMethod
	}
	return &gateway.OrderResponse{QRCode: "weixin://wxpay/bizpayurl?pr=" + req.OrderNo}, nil
}

func (g *stubGateway) SendPayout(_ context.Context, req gateway.PayoutRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.payoutErr != nil {
		return "", g.payoutErr
	}
	return fmt.Sprintf("PAYOUT-%s-%d", req.Reference, g.calls), nil
}
