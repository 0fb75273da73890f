package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/canteen-payments/internal/cart"
	"github.com/sheikh-saqib/canteen-payments/internal/config"
	"github.com/sheikh-saqib/canteen-payments/internal/events/kafka"
	"github.com/sheikh-saqib/canteen-payments/internal/events/outbox"
	"github.com/sheikh-saqib/canteen-payments/internal/httpapi"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/logging"
	"github.com/sheikh-saqib/canteen-payments/internal/metrics"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/settlement"
	"github.com/sheikh-saqib/canteen-payments/internal/storage/memory"
	"github.com/sheikh-saqib/canteen-payments/internal/storage/postgres"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const serviceName = "canteen-payments"

// ledgerBackend is everything the service needs from its primary store.
type ledgerBackend interface {
	interfaces.CatalogStore
	interfaces.BalanceStore
	interfaces.UnitOfWork
	interfaces.LedgerStore
	interfaces.ActivityLog
	interfaces.ActivityOutbox
}

type healthCheck func(ctx context.Context) error

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeHealth, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	carts, cartHealth, closeCarts, err := openCarts(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCarts()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := settlement.NewEngine(settlement.Stores{
		Catalog:    store,
		Balances:   store,
		UnitOfWork: store,
		Ledger:     store,
		Carts:      carts,
		Activity:   store,
		Metrics:    metrics.NewSettlementMetrics(reg),
	}, logger.With("component", "settlement"))

	handler := httpapi.NewRouter(httpapi.Deps{
		Engine:         engine,
		Carts:          carts,
		Catalog:        store,
		Ledger:         store,
		Logger:         logger.With("component", "http"),
		Metrics:        metrics.NewServerMetrics(reg),
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
		Health: func(ctx context.Context) error {
			if err := storeHealth(ctx); err != nil {
				return fmt.Errorf("ledger store: %w", err)
			}
			if err := cartHealth(ctx); err != nil {
				return fmt.Errorf("cart store: %w", err)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", "port", cfg.HTTPPort,
			"storage", cfg.StorageBackend, "cart", cfg.CartBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.With("component", "kafka"))
		defer publisher.Close()

		poller := outbox.NewPoller(store, publisher, cfg.OutboxInterval, logger.With("component", "outbox"))
		g.Go(func() error {
			logger.Info("outbox poller starting", "topic", cfg.KafkaTopic, "interval", cfg.OutboxInterval.String())
			return poller.Run(gctx)
		})
	} else {
		logger.Info("KAFKA_BROKERS not set, activity events stay in the activity log")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledgerBackend, healthCheck, func(), error) {
	if cfg.StorageBackend == config.BackendMemory {
		store := memory.NewMemoryStore()
		seedDemo(store)
		logger.Warn("using in-memory ledger, data is lost on restart")
		return store, func(context.Context) error { return nil }, func() {}, nil
	}

	store, err := postgres.Connect(ctx, &cfg.Postgres)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.RunMigrations(&cfg.Postgres); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	logger.Info("connected to postgres", "host", cfg.Postgres.Host, "db", cfg.Postgres.DBName)

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close postgres", "error", err)
		}
	}
	return store, store.Ping, closeFn, nil
}

func openCarts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (interfaces.CartStore, healthCheck, func(), error) {
	if cfg.CartBackend == config.BackendMemory {
		return cart.NewMemoryCartStore(), func(context.Context) error { return nil }, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	health := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}
	return cart.NewRedisCartStore(client, cfg.CartTTL), health, closeFn, nil
}

// seedDemo gives the in-memory backend a small menu and one funded student.
func seedDemo(store *memory.MemoryStore) {
	menu := []models.CatalogPrice{
		{ItemID: 1, Name: "Veg Sandwich", Price: decimal.RequireFromString("45.00"), Available: true},
		{ItemID: 2, Name: "Masala Dosa", Price: decimal.RequireFromString("60.00"), Available: true},
		{ItemID: 3, Name: "Cold Coffee", Price: decimal.RequireFromString("35.50"), Available: true},
		{ItemID: 4, Name: "Samosa", Price: decimal.RequireFromString("15.00"), Available: true},
	}
	for _, item := range menu {
		store.PutItem(item)
	}
	store.OpenAccount(1, decimal.RequireFromString("500.00"))
}
