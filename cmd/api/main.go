package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/armory-ledger/api/routes"
	"github.com/angelmondragon/armory-ledger/internal/assets"
	"github.com/angelmondragon/armory-ledger/internal/ledger"
	"github.com/angelmondragon/armory-ledger/internal/movements"
	"github.com/angelmondragon/armory-ledger/internal/projector"
	"github.com/angelmondragon/armory-ledger/internal/purchases"
	"github.com/angelmondragon/armory-ledger/internal/transfers"
	"github.com/angelmondragon/armory-ledger/internal/txlog"
	"github.com/angelmondragon/armory-ledger/pkg/config"
	"github.com/angelmondragon/armory-ledger/pkg/db"
	"github.com/angelmondragon/armory-ledger/pkg/env"
	"github.com/angelmondragon/armory-ledger/pkg/instance"
	"github.com/angelmondragon/armory-ledger/pkg/lock"
	"github.com/angelmondragon/armory-ledger/pkg/logger"
	"github.com/angelmondragon/armory-ledger/pkg/metrics"
	"github.com/angelmondragon/armory-ledger/pkg/migrate"
	"github.com/angelmondragon/armory-ledger/pkg/redis"
	"github.com/angelmondragon/armory-ledger/pkg/retry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Info(ctx, "redis not configured, using in-process locks")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	txLog, err := txlog.New(txlog.NewGormStore(dbClient), txlog.Options{
		Retry: retry.Policy{
			MaxAttempts:    cfg.Ledger.StorageRetries + 1,
			InitialBackoff: cfg.Ledger.RetryBackoff,
			MaximumBackoff: cfg.Ledger.MaxBackoff,
		},
		ReadBatch: cfg.Ledger.ReadBatch,
		Logger:    logg,
		Metrics:   ledgerMetrics,
	})
	requireService(ctx, logg, "transaction log", err)

	assetRepo := assets.NewRepository(dbClient.DB())
	proj, err := projector.New(txLog, assets.NewTypeIndex(assetRepo), logg)
	requireService(ctx, logg, "projector", err)
	if err := proj.Refresh(ctx); err != nil {
		logg.Error(ctx, "failed to load ledger history", err)
		os.Exit(1)
	}

	assetSvc, err := assets.NewService(assetRepo, txLog, proj, logg)
	requireService(ctx, logg, "asset service", err)

	var locker lock.Locker = lock.NewKeyedMutex(cfg.Ledger.LockWait)
	if redisClient != nil {
		locker, err = lock.NewRedisLocker(redisClient, lock.RedisOptions{
			TTL:    cfg.Ledger.LockTTL,
			Wait:   cfg.Ledger.LockWait,
			Logger: logg,
		})
		requireService(ctx, logg, "redis locker", err)
	}

	guard, err := ledger.NewGuard(txLog, proj, locker, ledger.GuardOptions{
		Retry: retry.Policy{
			MaxAttempts:    cfg.Ledger.ConflictRetries + 1,
			InitialBackoff: cfg.Ledger.RetryBackoff,
			MaximumBackoff: cfg.Ledger.MaxBackoff,
		},
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	requireService(ctx, logg, "debit guard", err)

	transferSvc, err := transfers.NewService(guard, txLog, assetSvc, logg)
	requireService(ctx, logg, "transfer service", err)
	purchaseSvc, err := purchases.NewService(txLog, assetSvc, logg)
	requireService(ctx, logg, "purchase service", err)
	movementSvc, err := movements.NewService(guard, txLog, assetSvc, logg)
	requireService(ctx, logg, "movement service", err)

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"driver":   cfg.DB.Driver,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:          dbClient,
			Redis:       redisClient,
			Gatherer:    registry,
			HTTPMetrics: metrics.NewHTTPMetrics(registry),
			Clock:       time.Now,
		}, routes.Services{
			Assets:    assetSvc,
			Purchases: purchaseSvc,
			Transfers: transferSvc,
			Movements: movementSvc,
			Summaries: proj,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func requireService(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to create "+name, err)
	os.Exit(1)
}
