package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
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
	"github.com/cleanroute/cleanroute/services/notification-service/internal/consumer"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/dispatch"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/email"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/handlers"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/inbox"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/sms"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/storage"
	"github.com/cleanroute/cleanroute/services/notification-service/internal/sweeper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	logger := runtime.NewLogger("notification-service")
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

	emailSender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	var smsSender dispatch.SMSSender = sms.NoopSender{}
	if strings.EqualFold(cfg.SMSProvider, "webhook") {
		smsSender = sms.NewWebhookSender(cfg.SMSWebhookURL, cfg.SMSWebhookToken, cfg.SMSSenderID)
	}
	dispatcher := dispatch.New(repo, emailSender, smsSender, logger, metrics.NewNotificationMetrics(reg))

	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   dispatch.TopicNotify,
	}, dispatcher.HandleMessage)
	go eventConsumer.Run(ctx)

	if cfg.SweepEnabled {
		sw := sweeper.New(repo, dispatcher, logger, sweeper.Config{
			Interval:  cfg.SweepInterval,
			BatchSize: cfg.SweepBatch,
		})
		go sw.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler(reg))
	handlers.NewNotificationHandler(dispatcher, logger).Register(mux, httpx.Middleware(auth.Middleware(cfg.JWTSecret)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
