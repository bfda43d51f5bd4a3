package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/libs/grpcx"
	"github.com/cleanroute/cleanroute/libs/httpx"
	"github.com/cleanroute/cleanroute/libs/kafkax"
	"github.com/cleanroute/cleanroute/libs/metrics"
	otelx "github.com/cleanroute/cleanroute/libs/otel"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/billing"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/customers"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/geocode"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/handlers"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/lifecycle"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/outbox"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/storage"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/tenantconfig"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger("booking-service")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger = runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	reg := metrics.NewRegistry()
	schedMetrics := metrics.NewSchedulingMetrics(reg)
	billingMetrics := metrics.NewBillingMetrics(reg)

	repo := storage.NewRepository(pool)
	var cache redis.Cmdable
	if rdb != nil {
		cache = rdb
	}
	configs := tenantconfig.NewService(storage.NewConfigRepository(pool), cache, cfg.ConfigCacheTTL, logger)
	machine := lifecycle.NewMachine(repo, configs, logger,
		lifecycle.WithMetrics(schedMetrics, billingMetrics),
	)

	var geo geocode.Geocoder = geocode.NewNominatimClient(geocode.NominatimConfig{
		BaseURL:   cfg.GeocoderURL,
		UserAgent: cfg.GeocoderUserAgent,
		Rate:      cfg.GeocodeRate,
	})
	if rdb != nil {
		geo = geocode.NewCachedGeocoder(geo, rdb, cfg.GeocodeCacheTTL, logger)
	}
	customerSvc := customers.NewService(repo, geo, logger)

	aggregator := billing.NewAggregator(repo.Billing(), logger, billingMetrics)
	runner := billing.NewRunner(aggregator, repo, logger, billingMetrics, billing.RunnerConfig{
		Interval: cfg.BillingInterval,
		Location: cfg.BillingLocation,
	})
	if cfg.BillingEnabled {
		go runner.Run(ctx)
	}

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "ratelimit:booking")
	}
	slots := handlers.NewSlotsHandler(repo, configs, logger, schedMetrics)
	mux.Handle("GET /api/v1/public/slots", httpx.Chain(http.HandlerFunc(slots.Slots),
		httpx.WithRateLimit(limiter, logger, true),
	))

	authn := httpx.Middleware(auth.Middleware(cfg.JWTSecret))
	handlers.NewAppointmentHandler(machine, logger).Register(mux, authn)
	handlers.NewConfigHandler(configs, logger).Register(mux, authn)
	handlers.NewCustomerHandler(customerSvc, logger).Register(mux, authn)
	handlers.NewBillingHandler(runner, cfg.BillingLocation, logger).Register(mux, authn)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.PublicCORSPolicy(cfg.CORSOrigins)),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	health := grpcx.NewHealthServer(cfg.Service, logger)
	go health.Watch(ctx, 10*time.Second, db.ReadyCheck(pool))
	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			logger.Error("grpc listen failed", "err", err)
			return
		}
		logger.Info("grpc health server starting", "addr", lis.Addr().String())
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second, health.Stop)
}
