package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cleanroute/cleanroute/libs/auth"
	"github.com/cleanroute/cleanroute/libs/db"
	"github.com/cleanroute/cleanroute/libs/grpcx"
	"github.com/cleanroute/cleanroute/libs/httpx"
	otelx "github.com/cleanroute/cleanroute/libs/otel"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/cleanroute/cleanroute/services/auth-service/internal/accounts"
	"github.com/cleanroute/cleanroute/services/auth-service/internal/handlers"
	"github.com/cleanroute/cleanroute/services/auth-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger("auth-service")
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

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow, "ratelimit:auth")
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	svc := accounts.NewService(storage.NewRepository(pool), logger, accounts.Config{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	// Credential routes fail closed.
	handlers.NewAuthHandler(svc, logger).Register(mux,
		httpx.Middleware(auth.Middleware(cfg.JWTSecret)),
		httpx.WithRateLimit(limiter, logger, false),
	)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.PublicCORSPolicy(cfg.CORSOrigins)),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "auth")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
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
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second, health.Stop)
}
