package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/legal-settlement/internal/api"
	"github.com/ayo6706/legal-settlement/internal/api/middleware"
	"github.com/ayo6706/legal-settlement/internal/config"
	"github.com/ayo6706/legal-settlement/internal/db"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/ayo6706/legal-settlement/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// components is the wired object graph shared by every command.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher events.Publisher
	idemStore *idempotency.Store
	repo      *repository.Repository

	payments       *service.PaymentService
	orders         *service.OrderService
	withdrawals    *service.WithdrawalService
	webhooks       *service.WebhookService
	reconciliation *service.ReconciliationService
}

func (c *components) Close() {
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Warn("close event publisher failed", zap.Error(err))
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	_ = c.logger.Sync()
}

func setup(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	c := &components{cfg: cfg, logger: logger}
	if c.pool, err = db.Connect(ctx, cfg.DatabaseURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if c.redis, err = newRedisClient(cfg.RedisURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	c.publisher = newPublisher(cfg, c.redis, logger)
	if err := c.wire(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *components) wire() error {
	cfg := c.cfg
	store := repository.NewStore(c.pool)
	c.repo = repository.NewRepository(c.pool)
	c.idemStore = idempotency.NewStore(c.redis, c.pool, cfg.IdempotencyTTL)
	guard := idempotency.NewGuard(c.redis, cfg.IdempotencyTTL)

	gw, err := newGateway(cfg.PayoutGateway)
	if err != nil {
		return err
	}
	retry := service.RetryPolicy{Base: cfg.RetryBase, Cap: cfg.RetryCap, MaxAttempts: cfg.RetryMaxAttempts}

	wallets := service.NewWalletService(store, c.publisher)
	c.payments = service.NewPaymentService(store, guard, wallets, c.publisher, service.SettlementConfig{
		Table:          cfg.SplitTable,
		PlatformUserID: cfg.PlatformUserID,
		Delay:          cfg.DelayFor,
		Retry:          retry,
	})
	c.orders = service.NewOrderService(store, gw, cfg.OrderTTL)
	c.withdrawals = service.NewWithdrawalService(store, wallets, gw, c.publisher, service.WithdrawalConfig{
		AutoApproveThreshold: cfg.RiskAutoApproveThreshold,
		PayoutGateway:        cfg.PayoutGateway,
		Retry:                retry,
	})

	notifiers, err := newNotifiers(cfg)
	if err != nil {
		return err
	}
	c.webhooks = service.NewWebhookService(c.payments, guard, notifiers...)
	c.reconciliation = service.NewReconciliationService(store, c.payments, wallets, c.orders, c.idemStore)
	return nil
}

// Run bootstraps the HTTP server, scheduler and payout worker, blocking until shutdown.
func Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.logger

	if err := db.Migrate(ctx, c.pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	scheduler, err := worker.NewScheduler(worker.ReconciliationJobs(c.reconciliation, c.cfg.SchedulerInterval)...)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	payoutWorker := worker.NewPayoutWorker(c.withdrawals).
		WithPollInterval(c.cfg.PayoutPollInterval).
		WithBatchSize(c.cfg.PayoutBatchSize)
	stopWorker := payoutWorker.Run(ctx)

	router := api.NewRouter(c.cfg, logger, c.pool, c.repo, c.idemStore, c.redis, api.Services{
		Orders:      c.orders,
		Webhooks:    c.webhooks,
		Withdrawals: c.withdrawals,
	})

	server := &http.Server{
		Addr:         ":" + c.cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", c.cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping background workers")
	stopWorker()
	cancel()
	if err := scheduler.Stop(); err != nil {
		logger.Error("scheduler shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}

// Migrate applies the embedded schema and exits.
func Migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return db.Migrate(ctx, pool)
}

// Reconcile runs the named maintenance job once, or every job for "all".
func Reconcile(job string) error {
	ctx := context.Background()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	job = strings.TrimSpace(job)
	if job == "" || job == "all" {
		return c.reconciliation.Run(ctx)
	}
	for _, j := range worker.ReconciliationJobs(c.reconciliation, c.cfg.SchedulerInterval) {
		if j.Name == job {
			return j.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job %q", job)
}

func newLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil || file == "" {
		return logger, err
	}

	// Also write to a rotated file.
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     28,
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotated, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newPublisher(cfg *config.Config, rdb redis.Cmdable, logger *zap.Logger) events.Publisher {
	publishers := events.Multi{events.NewRedisPublisher(rdb, cfg.EventsChannel)}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publishers = append(publishers, events.NewKafkaPublisher(writer))
		logger.Info("kafka event publishing enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	return publishers
}

func newGateway(name string) (gateway.Gateway, error) {
	switch strings.ToLower(name) {
	case "mock":
		return gateway.NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported PAYOUT_GATEWAY %q", name)
	}
}

// newNotifiers builds the webhook formats enabled by configuration. WeChat
// uses its own secret when GATEWAY_SECRETS names one; Alipay needs a public key.
func newNotifiers(cfg *config.Config) ([]service.Notifier, error) {
	notifiers := []service.Notifier{service.NewGenericNotifier(cfg.WebhookHMACKey, cfg.WebhookSkipSignature)}

	wechatKey := cfg.WebhookHMACKey
	if secret, ok := cfg.GatewaySecrets[gateway.MethodWechat]; ok {
		wechatKey = secret
	}
	notifiers = append(notifiers, service.NewWechatNotifier(wechatKey, cfg.WebhookSkipSignature))

	if strings.TrimSpace(cfg.AlipayPublicKey) != "" {
		key, err := service.ParseAlipayPublicKey(cfg.AlipayPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ALIPAY_PUBLIC_KEY: %w", err)
		}
		notifiers = append(notifiers, service.NewAlipayNotifier(key, cfg.WebhookSkipSignature))
	} else if cfg.WebhookSkipSignature {
		notifiers = append(notifiers, service.NewAlipayNotifier(nil, true))
	}
	return notifiers, nil
}
