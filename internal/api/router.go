package api

import (
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/api/handler"
	"github.com/ayo6706/captcha-solver-api/internal/api/middleware"
	"github.com/ayo6706/captcha-solver-api/internal/api/problem"
	"github.com/ayo6706/captcha-solver-api/internal/api/spec"
	"github.com/ayo6706/captcha-solver-api/internal/config"
	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/price"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Version is reported by /v1/docs.
const Version = "1.0.0"

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Users      *service.UserService
	Tokens     *service.TokenService
	Accounts   *service.AccountService
	Captcha    *service.CaptchaService
	Reconciler service.Reconciler
	Webhooks   *service.WebhookService
	Integrity  *service.IntegrityService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     handler.Pinger
	redis  redis.Cmdable
	idem   middleware.IdempotencyStore
	oracle price.Oracle
	svc    Services
}

// NewRouter wires handlers to services. redis, idem and oracle may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, idem middleware.IdempotencyStore, oracle price.Oracle, svc Services) *Router {
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)
	return &Router{
		cfg:    cfg,
		logger: logger,
		db:     db,
		redis:  redis,
		idem:   idem,
		oracle: oracle,
		svc:    svc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusNotFound, problem.Type("endpoint-not-found"), "", "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusMethodNotAllowed, problem.Type("method-not-allowed"), "", "Method not allowed")
	})

	authHandler := handler.NewAuthHandler(api.svc.Users, api.cfg.JWTTTL)
	userHandler := handler.NewUserHandler(api.svc.Users, api.svc.Tokens)
	walletHandler := handler.NewWalletHandler(api.svc.Accounts, api.svc.Reconciler)
	captchaHandler := handler.NewCaptchaHandler(api.svc.Captcha)
	dashboardHandler := handler.NewDashboardHandler(api.svc.Users, api.svc.Accounts, api.svc.Captcha)
	docsHandler := handler.NewDocsHandler(handler.DocsInfo{
		Version:               Version,
		Network:               api.cfg.Ledger.Network,
		CaptchaPriceMicros:    api.cfg.CaptchaPriceMicros,
		MinDepositMicros:      api.cfg.Deposit.MinDepositMicros,
		ConfirmationThreshold: api.cfg.Deposit.ConfirmationThreshold,
	})
	healthHandler := handler.NewHealthHandler(api.db, api.redis, api.oracle, api.cfg.Ledger.Network)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)
	adminHandler := handler.NewAdminHandler(api.svc.Integrity)

	r.Get("/health", healthHandler.Status)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Route("/v1", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
			r.Get("/docs", docsHandler.Get)
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/webhooks/ledger", webhookHandler.HandleLedgerWebhook)
		})

		// Session routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware)
			r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

			r.Get("/user/profile", userHandler.GetProfile)
			r.Put("/user/profile", userHandler.UpdateProfile)

			r.Get("/api-tokens", userHandler.ListTokens)
			r.Post("/api-tokens", userHandler.CreateToken)
			r.Delete("/api-tokens/{id}", userHandler.RevokeToken)

			r.Get("/wallet/address", walletHandler.GetAddress)
			r.Get("/wallet/balance", walletHandler.GetBalance)
			r.Get("/wallet/transactions", walletHandler.GetTransactions)
			r.Get("/wallet/deposits", walletHandler.GetDeposits)
			r.Post("/wallet/check-deposits", walletHandler.CheckDeposits)

			r.Get("/captcha/status/{id}", captchaHandler.Status)
			r.Get("/captcha/history", captchaHandler.History)
			r.Get("/dashboard", dashboardHandler.Get)

			r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/admin/integrity-check", adminHandler.RunIntegrityCheck)
		})

		// API token routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.APITokenMiddleware(api.svc.Tokens))
			r.Use(middleware.SolveRateLimiter(api.cfg.SolveRateLimitRPS))
			if api.idem != nil {
				r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))
			}
			r.Post("/captcha/solve", captchaHandler.Solve)
		})
	})

	return r
}
