package main

import (
	"time"

	"github.com/cleanroute/cleanroute/libs/config"
)

type appConfig struct {
	Service     string
	Port        string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	CORSOrigins []string

	LoginRateLimit  int
	LoginRateWindow time.Duration
}

func loadConfig() (appConfig, error) {
	config.LoadDotEnv()

	cfg := appConfig{
		Service:     config.String("SERVICE_NAME", "auth-service"),
		RedisURL:    config.String("REDIS_URL", ""),
		CORSOrigins: config.List("CORS_ALLOWED_ORIGINS"),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8081"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9091"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.AccessTTL, err = config.Duration("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RefreshTTL, err = config.Duration("REFRESH_TOKEN_TTL", 720*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.LoginRateLimit, err = config.Int("LOGIN_RATE_LIMIT", 10); err != nil {
		return cfg, err
	}
	if cfg.LoginRateWindow, err = config.Duration("LOGIN_RATE_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	return cfg, nil
}
