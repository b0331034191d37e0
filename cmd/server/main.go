// Package main is the entry point for the wmsledger API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wmsledger/internal/config"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/auth"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/cache"
	v1 "wmsledger/internal/infrastructure/http/v1"
	"wmsledger/internal/infrastructure/migration"
	"wmsledger/internal/infrastructure/notify"
	"wmsledger/internal/infrastructure/storage/postgres"
	"wmsledger/internal/infrastructure/storage/postgres/backorder_repo"
	"wmsledger/internal/infrastructure/storage/postgres/counttask_repo"
	"wmsledger/internal/infrastructure/storage/postgres/ledger_repo"
	"wmsledger/internal/infrastructure/telemetry"
	"wmsledger/pkg/logger"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	if err := cfg.RequireAuth(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting wmsledger server", "version", version)

	// --- Telemetry ---
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SamplingRatio:  cfg.Telemetry.SamplingRatio,
	}, log)
	if err != nil {
		log.Fatalw("failed to set up telemetry", "error", err)
	}

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	if err := checkSchema(cfg.Database.URL, log); err != nil {
		log.Fatalw("database schema not ready", "error", err)
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Database.StatementTimeout
	txOpts.LockTimeout = cfg.Database.LockTimeout
	txm := postgres.NewTxManager(pool, txOpts)

	// --- Domain wiring ---
	stockRepo := ledger_repo.NewStockRepo(txm)
	locationRepo := ledger_repo.NewLocationRepo(txm)
	locations := cache.NewLocationCache(pool.Pool, locationRepo)
	if err := locations.Start(ctx); err != nil {
		log.Fatalw("failed to start location cache", "error", err)
	}
	defer locations.Stop()
	notifier := notify.New(postgres.NewOutboxPublisher(txm))

	recorder := ledger.NewRecorder(stockRepo, txm)
	mutator := ledger.NewMutator(txm, stockRepo, recorder, locations)
	counts := counttask.NewService(txm, counttask_repo.NewCountTaskRepo(txm), stockRepo, mutator, notifier)
	engine := allocation.NewEngine(stockRepo, mutator, nil, counts, notifier)
	backorders := backorder.NewManager(txm, backorder_repo.NewBackorderRepo(txm), engine, notifier)
	engine.SetBackorders(backorders)

	auditor, err := postgres.NewAuditService(txm)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}
	svc := inventory.NewService(txm, stockRepo, mutator, recorder, engine, backorders, counts, auditor)
	svc.SetLocations(locationRepo)

	// --- JWT ---
	jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	jwtCfg.Issuer = cfg.Auth.Issuer
	jwtService := auth.NewJWTService(jwtCfg)

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Logger:       log,
		JWTValidator: jwtService,
		Service:      svc,
		Health:       pool,
		Version:      version,
	}
	if cfg.Server.IdempotencyEnabled {
		routerCfg.Idempotency = postgres.NewIdempotencyStore(txm, cfg.Server.IdempotencyTTL)
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Infow("server starting", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warnw("telemetry shutdown failed", "error", err)
	}

	log.Info("server stopped")
}

// checkSchema refuses to serve against a database with no migrations or a
// dirty migration.
func checkSchema(databaseURL string, log *logger.Logger) error {
	m, err := migration.New(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()

	v, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no migrations applied; run wmsledger-migrate up")
	}
	if dirty {
		return fmt.Errorf("migration %d is dirty", v)
	}
	log.Infow("database schema", "version", v)
	return nil
}
