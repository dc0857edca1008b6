package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/config"
	"github.com/joao-fontenele/giftshop/internal/email"
	"github.com/joao-fontenele/giftshop/internal/logging"
	"github.com/joao-fontenele/giftshop/internal/messaging"
	"github.com/joao-fontenele/giftshop/internal/notify"
	"github.com/joao-fontenele/giftshop/internal/orders"
	"github.com/joao-fontenele/giftshop/internal/scheduler"
	"github.com/joao-fontenele/giftshop/internal/telemetry"
	"github.com/joao-fontenele/giftshop/internal/wallet"
	"github.com/joao-fontenele/giftshop/internal/worker"
)

const serviceName = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	})
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL is required")
		os.Exit(1)
	}

	settings, err := cfg.Settings()
	if err != nil {
		logger.Error("invalid business settings", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	_, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	metrics, err := telemetry.NewOrderMetrics(otel.Meter("giftshop/worker"))
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.ConnectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
	defer func() { _ = producer.Close() }()
	notifier := notify.NewPublisher(producer, logger)

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.OrderEventsTopic, "notification-worker")
	defer func() { _ = consumer.Close() }()

	queue := scheduler.NewQueue(rdb, cfg.SchedulerPollInterval, logger)

	// Feedback jobs only read orders and publish events, so the service runs
	// here without a payment gateway.
	service := orders.NewService(orders.Deps{
		Repo:      orders.NewOrderRepository(db),
		Notifier:  notifier,
		Wallet:    wallet.NewWalletRepository(db),
		Scheduler: queue,
		Settings:  settings,
		Metrics:   metrics,
		Logger:    logger,
	})

	notifications := worker.NewNotificationHandler(email.NewClient(cfg.EmailServiceURL, nil), settings, metrics, logger)
	jobs := worker.NewJobs(service, logger)
	sweeper := worker.NewSweeper(cart.NewCartRepository(db), notifier, cfg.CartAbandonAfter, cfg.SweepInterval, logger)

	logger.Info("starting worker", "brokers", cfg.KafkaBrokers, "topic", cfg.OrderEventsTopic)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Consume(gctx, notifications.Handle) })
	g.Go(func() error { return queue.Run(gctx, jobs.Handle) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
