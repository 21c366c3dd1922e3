package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/legal-settlement/internal/db"
	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/ayo6706/legal-settlement/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func connectDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func connectRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("REDIS_URL") == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestGuardWithoutRedisNeverReportsSeen(t *testing.T) {
	g := NewGuard(nil, time.Minute)
	g.Remember(context.Background(), "wechat", "T1", uuid.New())

	_, ok := g.Seen(context.Background(), "wechat", "T1")
	assert.False(t, ok)

	var nilGuard *Guard
	_, ok = nilGuard.Seen(context.Background(), "wechat", "T1")
	assert.False(t, ok)
}

func TestGuardKeyTrimsInput(t *testing.T) {
	assert.Equal(t, "gateway:wechat:T1", guardKey(" wechat ", "T1\n"))
	assert.Equal(t, "idempotency:abc", redisKey("abc"))
}

func TestGuardRemembersAdmissionInRedis(t *testing.T) {
	rdb := connectRedis(t)
	ctx := context.Background()
	g := NewGuard(rdb, time.Minute)
	txnID := "T-" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, guardKey("wechat", txnID)) })

	_, ok := g.Seen(ctx, "wechat", txnID)
	require.False(t, ok)

	id := uuid.New()
	g.Remember(ctx, "wechat", txnID, id)
	got, ok := g.Seen(ctx, "wechat", txnID)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestGuardAdmitsOnce(t *testing.T) {
	pool := connectDB(t)
	store := repository.NewStore(pool)
	g := NewGuard(nil, time.Minute)
	ctx := context.Background()
	txnID := "T-" + uuid.NewString()

	admit := func() Admission {
		var adm Admission
		err := store.RunInTx(ctx, func(q *repository.Queries) error {
			var err error
			adm, err = g.Admit(ctx, q, repository.InsertTransactionParams{
				ID:           repository.ToPgUUID(uuid.New()),
				Amount:       100,
				Currency:     domain.Currency,
				Type:         string(domain.TxTypePayment),
				Status:       string(domain.TxStatusCompleted),
				Gateway:      "wechat",
				GatewayTxnID: txnID,
			})
			return err
		})
		require.NoError(t, err)
		return adm
	}

	first := admit()
	require.True(t, first.Admitted)
	second := admit()
	require.False(t, second.Admitted)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	err := store.RunInTx(ctx, func(q *repository.Queries) error {
		_, err := g.Admit(ctx, q, repository.InsertTransactionParams{Gateway: "wechat", GatewayTxnID: "  "})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidGatewayTxnID)
}

func TestStoreReserveFinalizeLookup(t *testing.T) {
	pool := connectDB(t)
	s := NewStore(nil, pool, time.Hour)
	ctx := context.Background()
	key := "key-" + uuid.NewString()

	_, err := s.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Reserve(ctx, key, "h1", "POST", "/finance/withdrawal")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve(ctx, key, "h1", "POST", "/finance/withdrawal")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrInProgress)

	rec, err := s.Finalize(ctx, key, "h1", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)

	rec, err = s.Lookup(ctx, key, "h1")
	require.NoError(t, err)
	assert.Equal(t, "postgres", rec.ServedBy)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = s.Lookup(ctx, key, "h2")
	assert.ErrorIs(t, err, ErrHashMismatch)
}
