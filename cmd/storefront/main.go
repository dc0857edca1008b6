package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/giftshop/internal/address"
	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/catalog"
	"github.com/joao-fontenele/giftshop/internal/config"
	"github.com/joao-fontenele/giftshop/internal/coupon"
	"github.com/joao-fontenele/giftshop/internal/logging"
	"github.com/joao-fontenele/giftshop/internal/messaging"
	"github.com/joao-fontenele/giftshop/internal/notify"
	"github.com/joao-fontenele/giftshop/internal/orders"
	"github.com/joao-fontenele/giftshop/internal/payment"
	"github.com/joao-fontenele/giftshop/internal/scheduler"
	"github.com/joao-fontenele/giftshop/internal/telemetry"
	"github.com/joao-fontenele/giftshop/internal/wallet"
)

const serviceName = "storefront"

func main() {
	ctx := context.Background()

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

	settings, err := cfg.Settings()
	if err != nil {
		logger.Error("invalid business settings", "error", err)
		os.Exit(1)
	}

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL is required")
		os.Exit(1)
	}

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	orderMetrics, err := telemetry.NewOrderMetrics(otel.Meter("giftshop/orders"))
	if err != nil {
		logger.Error("failed to create order metrics", "error", err)
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

	var notifier orders.Notifier = notify.NewLogOnly(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
		defer func() { _ = producer.Close() }()
		notifier = notify.NewPublisher(producer, logger)
	}

	gateway := payment.NewClient(payment.Config{
		BaseURL:       cfg.RazorpayBaseURL,
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
		Currency:      cfg.Currency,
	}, nil, logger)

	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	addresses := address.NewAddressRepository(db)
	coupons := coupon.NewValidator(coupon.NewCouponRepository(db))
	wallets := wallet.NewWalletRepository(db)

	service := orders.NewService(orders.Deps{
		Repo:      orders.NewOrderRepository(db),
		Carts:     carts,
		Addresses: addresses,
		Coupons:   coupons,
		Catalog:   products,
		Gateway:   gateway,
		Notifier:  notifier,
		Wallet:    wallets,
		Scheduler: scheduler.NewQueue(rdb, cfg.SchedulerPollInterval, logger),
		Settings:  settings,
		Metrics:   orderMetrics,
		Logger:    logger,
	})

	catalogHandler := catalog.NewHandler(products, logger)
	cartHandler := cart.NewHandler(carts, products, logger)
	addressHandler := address.NewHandler(addresses, logger)
	couponHandler := coupon.NewHandler(coupons, carts, logger)
	walletHandler := wallet.NewHandler(wallets, logger)
	orderHandler := orders.NewHandler(service, gateway, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(catalogHandler.HandleList))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(catalogHandler.HandleGet))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(auth.RequireUser(cartHandler.HandleGet)))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(auth.RequireUser(cartHandler.HandleAddItem)))
	mux.HandleFunc("PATCH /cart/items/{id}", telemetry.WithHTTPRoute(auth.RequireUser(cartHandler.HandleUpdateItem)))
	mux.HandleFunc("DELETE /cart/items/{id}", telemetry.WithHTTPRoute(auth.RequireUser(cartHandler.HandleRemoveItem)))
	mux.HandleFunc("POST /coupons/preview", telemetry.WithHTTPRoute(auth.RequireUser(couponHandler.HandlePreview)))
	mux.HandleFunc("GET /addresses", telemetry.WithHTTPRoute(auth.RequireUser(addressHandler.HandleList)))
	mux.HandleFunc("POST /addresses", telemetry.WithHTTPRoute(auth.RequireUser(addressHandler.HandleCreate)))
	mux.HandleFunc("GET /wallet", telemetry.WithHTTPRoute(auth.RequireUser(walletHandler.HandleGet)))
	orderHandler.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      telemetry.ServerHandler(auth.FromHeaders(mux), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
