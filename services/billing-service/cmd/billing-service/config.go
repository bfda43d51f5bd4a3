package main

import (
	"time"

	"github.com/cleanroute/cleanroute/libs/config"
)

type appConfig struct {
	Service      string
	Port         string
	GRPCPort     string
	DatabaseURL  string
	KafkaBrokers string
	JWTSecret    string
	CORSOrigins  []string

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	StripeCurrency         string
	StripeTimeout          time.Duration
	CheckoutSuccessURL     string
	PublicWebhookURL       string

	ReconcileEnabled  bool
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

func loadConfig() (appConfig, error) {
	config.LoadDotEnv()

	cfg := appConfig{
		Service:             config.String("SERVICE_NAME", "billing-service"),
		KafkaBrokers:        config.String("KAFKA_BROKERS", ""),
		CORSOrigins:         config.List("CORS_ALLOWED_ORIGINS"),
		StripeSecretKey:     config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeCurrency:      config.String("STRIPE_CURRENCY", "usd"),
		CheckoutSuccessURL:  config.String("CHECKOUT_SUCCESS_URL", "http://localhost:3000/invoices/{invoice_id}?paid=1"),
		PublicWebhookURL:    config.String("PUBLIC_WEBHOOK_URL", ""),
		ReconcileEnabled:    config.Bool("BILLING_STRIPE_RECONCILE_ENABLED", false),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8084"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9094"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.StripeWebhookTolerance, err = config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.StripeTimeout, err = config.Duration("STRIPE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ReconcileInterval, err = config.Duration("BILLING_STRIPE_RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ReconcileBatch, err = config.Int("BILLING_STRIPE_RECONCILE_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	return cfg, nil
}
