package api

import (
	"net/http"
	"time"

	"github.com/ayo6706/legal-settlement/internal/api/handler"
	"github.com/ayo6706/legal-settlement/internal/api/middleware"
	"github.com/ayo6706/legal-settlement/internal/api/spec"
	"github.com/ayo6706/legal-settlement/internal/config"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the domain services the HTTP layer calls into.
type Services struct {
	Orders      *service.OrderService
	Webhooks    *service.WebhookService
	Withdrawals *service.WithdrawalService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	repo      *repository.Repository
	idemStore *idempotency.Store
	redis     redis.Cmdable
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, repo *repository.Repository, idemStore *idempotency.Store, redisClient redis.Cmdable, services Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repo:      repo,
		idemStore: idemStore,
		redis:     redisClient,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID", "X-Idempotent-Replay"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	webhookHandler := handler.NewWebhookHandler(api.services.Webhooks, api.cfg.WebhookTimeout)
	paymentHandler := handler.NewPaymentHandler(api.services.Orders)
	walletHandler := handler.NewWalletHandler(api.repo)
	withdrawalHandler := handler.NewWithdrawalHandler(api.services.Withdrawals, api.repo)
	idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Gateways authenticate with signatures, not tokens.
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimiter(api.cfg.WebhookRateLimitRPS))
		r.Use(chiMiddleware.Timeout(api.cfg.WebhookTimeout + time.Second))
		r.Post("/payment/notify", webhookHandler.Notify)
		r.Post("/payment/notify/{gateway}", webhookHandler.NotifyGateway)
	})

	r.Route("/finance", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(idem).Post("/payment/create", paymentHandler.CreatePayment)

		r.Get("/wallet", walletHandler.GetWallet)
		r.Get("/wallet/ledger", walletHandler.GetLedger)
		r.Get("/commission/details", walletHandler.GetCommissions)

		r.With(idem).Post("/withdrawal", withdrawalHandler.Submit)
		r.Get("/withdrawal", withdrawalHandler.List)
		r.Get("/withdrawal/{id}", withdrawalHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/withdrawal/{id}/approve", withdrawalHandler.Approve)
			r.Post("/withdrawal/{id}/reject", withdrawalHandler.Reject)
			r.Post("/withdrawal/{id}/resolve", withdrawalHandler.Resolve)
			r.Put("/admin/cases/{caseRef}/parties", paymentHandler.PutCaseParties)
		})
	})

	return r
}
