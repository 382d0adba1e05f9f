package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/api"
	"github.com/ayo6706/captcha-solver-api/internal/config"
	"github.com/ayo6706/captcha-solver-api/internal/db"
	"github.com/ayo6706/captcha-solver-api/internal/idempotency"
	"github.com/ayo6706/captcha-solver-api/internal/ledger"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/price"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/ayo6706/captcha-solver-api/internal/solver"
	"github.com/ayo6706/captcha-solver-api/internal/worker"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	userAgent       = "captcha-solver-api/" + api.Version
	shutdownTimeout = 30 * time.Second
)

// Run loads configuration, builds the service and blocks until SIGINT or
// SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

// App owns the long-lived components: storage clients, the deposit engine,
// the background workers and the HTTP server.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	params *chaincfg.Params

	pool   *pgxpool.Pool
	redis  *redis.Client
	ledger ledgerClientWithName

	driver    *service.ReconciliationDriver
	integrity *service.IntegrityService
	repo      *repository.Repository

	server *http.Server
}

// engine is the deposit reconciliation engine plus its integrity check.
type engine struct {
	driver    *service.ReconciliationDriver
	integrity *service.IntegrityService
}

// New connects to Postgres and Redis, applies the schema and wires every
// component. Nothing runs until Serve.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	params, err := ledger.NetworkParams(cfg.Ledger.Network)
	if err != nil {
		return nil, fmt.Errorf("bitcoin network: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	redisClient, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		params: params,
		pool:   pool,
		redis:  redisClient,
		ledger: newLedgerClient(cfg.Ledger),
		repo:   repository.NewRepository(pool),
	}

	store := repository.NewStore(pool)
	oracle := price.NewFallbackOracle(newPriceProvider(cfg.Price), redisClient, price.OracleConfig{
		Fiat:     cfg.Price.Currency,
		CacheTTL: cfg.Price.CacheTTL,
		Timeout:  cfg.Price.Timeout,
		Fallback: cfg.Price.FallbackBTCUSD,
	})

	eng, err := a.newEngine(store, oracle)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.driver, a.integrity = eng.driver, eng.integrity

	svc := api.Services{
		Users:      service.NewUserService(store, a.repo, params),
		Tokens:     service.NewTokenService(a.repo),
		Accounts:   service.NewAccountService(a.repo),
		Captcha:    service.NewCaptchaService(store, a.repo, solver.NewMockSolver(), cfg.CaptchaPriceMicros),
		Reconciler: eng.driver,
		Webhooks:   service.NewWebhookService(a.repo, eng.driver, cfg.WebhookHMACKey),
		Integrity:  eng.integrity,
	}
	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL,
		idempotency.WithReservationTimeout(4*service.SolveTimeout))
	router := api.NewRouter(cfg, logger, store, redisClient, idemStore, oracle, svc)

	a.server = &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: service.SolveTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

func (a *App) newEngine(store *repository.Store, oracle price.Oracle) (*engine, error) {
	audit := service.NewAuditService()
	aggregator, err := service.NewDepositAggregator(a.cfg.Deposit, audit)
	if err != nil {
		return nil, fmt.Errorf("deposit aggregator: %w", err)
	}
	// In-process lock first, then the cross-instance one.
	locker := service.ChainLocker{
		service.NewLocalLocker(),
		service.NewRedisLocker(a.redis, a.cfg.UserLockTTL),
	}
	driver := service.NewReconciliationDriver(
		service.NewPgDepositStore(store),
		a.ledger,
		oracle,
		locker,
		service.NewConfirmationTracker(a.cfg.Deposit.ConfirmationThreshold, audit),
		aggregator,
		service.ReconcilerConfig{LedgerTimeout: a.cfg.Ledger.Timeout},
	)
	return &engine{driver: driver, integrity: service.NewIntegrityService(store)}, nil
}

// Serve starts the workers and the HTTP server and blocks until ctx ends or
// the server fails. The server drains first so in-flight solves finish before
// the workers stop. Serve returns only once no pass is running, so Close can
// release the pool.
func (a *App) Serve(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	stopDeposits := worker.NewDepositWorker(a.repo, a.driver).
		WithPollInterval(a.cfg.DepositPollInterval).
		WithConcurrency(a.cfg.DepositPollConcurrency).
		Run(workerCtx)
	stopIntegrity := worker.NewIntegrityWorker(a.integrity).
		WithInterval(a.cfg.IntegrityInterval).
		Run(workerCtx)
	a.logger.Info("workers started",
		zap.String("ledger", a.ledger.Name()),
		zap.String("network", a.params.Name),
		zap.Duration("deposit_interval", a.cfg.DepositPollInterval),
		zap.Duration("integrity_interval", a.cfg.IntegrityInterval),
	)
	if a.ledger.Name() == "mock" {
		a.logger.Warn("ledger provider is the in-memory mock; deposits will only appear through tests")
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", zap.String("port", a.cfg.HTTPPort))
		serverErr <- a.server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", zap.Error(err))
	}

	a.logger.Info("stopping workers")
	stopped := make(chan struct{})
	go func() {
		stopDeposits()
		stopIntegrity()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		a.logger.Warn("workers still busy, canceling in-flight passes")
		cancelWorkers()
		<-stopped
	}

	a.logger.Info("shutdown complete")
	return runErr
}

// Close releases the storage clients.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// ledgerClientWithName is what the app needs from a ledger client.
type ledgerClientWithName interface {
	ledger.Client
	Name() string
}

func newLedgerClient(cfg config.LedgerConfig) ledgerClientWithName {
	if cfg.Provider == "esplora" {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ledger.EsploraURLFor(cfg.Network)
		}
		return ledger.NewEsploraClient(ledger.EsploraConfig{
			BaseURL:   baseURL,
			UserAgent: userAgent,
			Timeout:   cfg.Timeout,
			RPS:       cfg.RPS,
		})
	}
	return ledger.NewMockClient()
}

func newPriceProvider(cfg config.PriceConfig) price.Provider {
	if cfg.Provider == "coingecko" {
		return price.NewCoinGecko(cfg.BaseURL, cfg.APIKey, userAgent, cfg.Timeout)
	}
	return price.Static{Rate: cfg.FallbackBTCUSD}
}

// newLogger builds a production zap logger. Unknown levels fall back to info.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}
	return cfg.Build()
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
