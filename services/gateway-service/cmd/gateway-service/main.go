package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/cleanroute/cleanroute/libs/httpx"
	otelx "github.com/cleanroute/cleanroute/libs/otel"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/cleanroute/cleanroute/services/gateway-service/internal/router"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger("gateway-service")
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

	var readyChecks []runtime.ReadyCheck
	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(cfg.RateLimit, time.Minute)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, time.Minute, "ratelimit:gateway")
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimit)
	} else {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimit)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	router.New(mux, router.Routes(cfg.Upstreams), cfg.JWTSecret, otelhttp.NewTransport(http.DefaultTransport), logger)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.APICORSPolicy(cfg.CORSOrigins)),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
		httpx.WithRateLimit(limiter, logger, cfg.RateLimitOpen),
	)
	handler = otelhttp.NewHandler(handler, "gateway")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second)
}
