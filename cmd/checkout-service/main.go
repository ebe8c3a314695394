package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_food/internal/catalog"
	"github.com/fjod/go_food/internal/config"
	"github.com/fjod/go_food/internal/domain"
	h "github.com/fjod/go_food/internal/http"
	"github.com/fjod/go_food/internal/payment"
	"github.com/fjod/go_food/internal/publisher"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/internal/service"
	"github.com/fjod/go_food/pkg/logger"
	"github.com/fjod/go_food/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{JSON: cfg.LogJSON, Level: cfg.LogLevel})
	slog.SetDefault(log)
	log.Info("checkout-service starting", "store", cfg.Store, "mock_payments", cfg.MockPayments())

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "checkout")

	var cache catalog.ItemCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, item cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = catalog.NewRedisCache(rdb)
			log.Info("item cache enabled", "addr", cfg.RedisAddr)
		}
	}
	items := catalog.NewService(st, cache, log)

	var gw payment.Gateway
	if cfg.MockPayments() {
		gw = &payment.MockGateway{WebhookURL: cfg.PublicBaseURL + "/payments/webhook"}
	} else {
		gw = payment.NewChapaClient(cfg.ChapaBaseURL, cfg.ChapaSecretKey, cfg.VerifyTimeout, cfg.ChapaRateLimit)
	}
	gw = payment.WithBreaker(gw, cfg.BreakerFailures, cfg.BreakerOpen, log)

	reconciler := service.NewReconciler(st, gw, cfg.VerifyTimeout, log, m)
	payments := service.NewPaymentService(st, gw, service.PaymentConfig{
		CallbackURL:     cfg.ChapaCallbackURL,
		ReturnURL:       cfg.WebAppURL + "/payment-success",
		MobileReturnURL: cfg.MobileAppDeepLink,
	}, log)

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(st, log, m, cfg.KafkaTopic, cfg.KafkaBrokers...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
			if err := poller.Close(); err != nil {
				log.Warn("failed to close kafka writer", "error", err)
			}
		}()
		log.Info("outbox poller started", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	sweeper := service.NewPendingSweeper(st, reconciler, cfg.SweepInterval, cfg.SweepAge, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	router := h.NewRouter(h.RouterConfig{
		Carts:          service.NewCartService(st, items, log),
		Checkout:       service.NewCheckoutService(st, log, m),
		Orders:         service.NewOrderService(st, log),
		Payments:       payments,
		Reconciler:     reconciler,
		Items:          items,
		JWTSecret:      cfg.JWTSecret,
		WebAppURL:      cfg.WebAppURL,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        m,
		Gatherer:       reg,
		Log:            log,
	})
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using mock authentication")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "checkout-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	cancel()
	wg.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shut down tracer provider", "error", err)
	}
	log.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Store, error) {
	if cfg.Store == "memory" {
		mem := repository.NewMemoryStore(cfg.LockTimeout)
		if err := seedDemo(ctx, mem); err != nil {
			return nil, err
		}
		log.Info("using in-memory store with demo data")
		return mem, nil
	}

	repo, err := repository.NewRepository(&cfg.DB, cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(&cfg.DB); err != nil {
		_ = repo.Close()
		return nil, err
	}
	log.Info("database migrations completed")
	return repo, nil
}

func seedDemo(ctx context.Context, mem *repository.MemoryStore) error {
	users := []*domain.User{
		{Email: "customer@example.com", FirstName: "Abebe", LastName: "Kebede", Phone: "0911000000"},
		{Email: "staff@example.com", FirstName: "Sara", IsStaff: true},
	}
	for _, u := range users {
		if err := mem.CreateUser(ctx, u); err != nil {
			return err
		}
	}
	menu := []struct {
		title string
		price string
	}{
		{"Classic Burger", "350.00"},
		{"Cheese Burger", "400.00"},
		{"Fries", "120.00"},
		{"Soft Drink", "60.00"},
	}
	for _, it := range menu {
		if err := mem.CreateItem(ctx, &domain.Item{Title: it.title, Price: decimal.RequireFromString(it.price)}); err != nil {
			return err
		}
	}
	return nil
}
