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
	KafkaGroupID string
	KafkaTopic   string
	JWTSecret    string

	SMTP            smtpConfig
	SMSProvider     string
	SMSWebhookURL   string
	SMSWebhookToken string
	SMSSenderID     string

	SweepEnabled  bool
	SweepInterval time.Duration
	SweepBatch    int
}

type smtpConfig struct {
	Host, Port, From, FromName, Username, Password string
}

func loadConfig() (appConfig, error) {
	config.LoadDotEnv()

	cfg := appConfig{
		Service:      config.String("SERVICE_NAME", "notification-service"),
		KafkaBrokers: config.String("KAFKA_BROKERS", ""),
		KafkaGroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		SMTP: smtpConfig{
			Host:     config.String("SMTP_HOST", "mailpit"),
			Port:     config.String("SMTP_PORT", "1025"),
			From:     config.String("SMTP_FROM", "no-reply@cleanroute.local"),
			FromName: config.String("SMTP_FROM_NAME", "CleanRoute"),
			Username: config.String("SMTP_USERNAME", ""),
			Password: config.String("SMTP_PASSWORD", ""),
		},
		SMSProvider:     config.String("SMS_PROVIDER", "noop"),
		SMSWebhookURL:   config.String("SMS_WEBHOOK_URL", ""),
		SMSWebhookToken: config.String("SMS_WEBHOOK_TOKEN", ""),
		SMSSenderID:     config.String("SMS_SENDER_ID", ""),
		SweepEnabled:    config.Bool("DAY_BEFORE_SWEEP_ENABLED", true),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9095"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = config.Duration("DAY_BEFORE_SWEEP_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.SweepBatch, err = config.Int("DAY_BEFORE_SWEEP_BATCH_SIZE", 500); err != nil {
		return cfg, err
	}
	return cfg, nil
}
