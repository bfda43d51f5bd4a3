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
	"github.com/cleanroute/cleanroute/libs/kafkax"
	"github.com/cleanroute/cleanroute/libs/metrics"
	otelx "github.com/cleanroute/cleanroute/libs/otel"
	"github.com/cleanroute/cleanroute/libs/runtime"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/handlers"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/invoices"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/payments"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/reconcile"
	"github.com/cleanroute/cleanroute/services/billing-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger("billing-service")
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

	reg := metrics.NewRegistry()
	repo := storage.NewRepository(pool)
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		Currency: cfg.StripeCurrency,
		Timeout:  cfg.StripeTimeout,
	})
	svc := invoices.NewService(repo, gateway, logger, metrics.NewPaymentMetrics(reg), invoices.Config{
		DefaultAPIKey:    cfg.StripeSecretKey,
		WebhookSecret:    cfg.StripeWebhookSecret,
		WebhookTolerance: cfg.StripeWebhookTolerance,
		SuccessURL:       cfg.CheckoutSuccessURL,
		WebhookURL:       cfg.PublicWebhookURL,
	})

	// Self-heal invoices whose paid webhook was missed.
	if cfg.ReconcileEnabled {
		rec := reconcile.New(svc, repo, logger, reconcile.Config{
			Interval:  cfg.ReconcileInterval,
			BatchSize: cfg.ReconcileBatch,
		})
		go rec.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler(reg))
	handlers.NewInvoiceHandler(svc, logger).Register(mux, httpx.Middleware(auth.Middleware(cfg.JWTSecret)))
	handlers.NewWebhookHandler(svc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.PublicCORSPolicy(cfg.CORSOrigins)),
	)
	handler = otelhttp.NewHandler(handler, "billing")
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
		logger.Info("grpc health server starting", "addr", lis.Addr().String())
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second, health.Stop)
}
