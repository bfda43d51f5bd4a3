package main

import (
	"fmt"
	"time"

	"github.com/cleanroute/cleanroute/libs/config"
	"golang.org/x/time/rate"
)

type appConfig struct {
	Service      string
	Port         string
	GRPCPort     string
	DatabaseURL  string
	DBMaxConns   int32
	RedisURL     string
	KafkaBrokers string
	JWTSecret    string
	CORSOrigins  []string

	RateLimit       int
	RateLimitWindow time.Duration
	ConfigCacheTTL  time.Duration

	BillingEnabled  bool
	BillingInterval time.Duration
	BillingLocation *time.Location

	GeocoderURL       string
	GeocoderUserAgent string
	GeocodeRate       rate.Limit
	GeocodeCacheTTL   time.Duration
}

func loadConfig() (appConfig, error) {
	config.LoadDotEnv()

	cfg := appConfig{
		Service:           config.String("SERVICE_NAME", "booking-service"),
		RedisURL:          config.String("REDIS_URL", ""),
		KafkaBrokers:      config.String("KAFKA_BROKERS", ""),
		CORSOrigins:       config.List("CORS_ALLOWED_ORIGINS"),
		BillingEnabled:    config.Bool("BILLING_WORKER_ENABLED", true),
		GeocoderURL:       config.String("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: config.String("GEOCODER_USER_AGENT", "cleanroute/1.0"),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return cfg, err
	}
	// The billing cycle holds its advisory lock tx on one connection and
	// bills each customer on another.
	if cfg.BillingEnabled && maxConns < 2 {
		return cfg, fmt.Errorf("DB_MAX_CONNS must be at least 2 when billing is enabled, got %d", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)
	if cfg.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_REQUESTS", 120); err != nil {
		return cfg, err
	}
	if cfg.RateLimitWindow, err = config.Duration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ConfigCacheTTL, err = config.Duration("CONFIG_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.BillingInterval, err = config.Duration("BILLING_INTERVAL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.GeocodeCacheTTL, err = config.Duration("GEOCODE_CACHE_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	perSecond, err := config.Int("GEOCODE_RATE_PER_SECOND", 1)
	if err != nil {
		return cfg, err
	}
	cfg.GeocodeRate = rate.Limit(perSecond)

	tz := config.String("BILLING_TIMEZONE", "UTC")
	if cfg.BillingLocation, err = time.LoadLocation(tz); err != nil {
		return cfg, fmt.Errorf("BILLING_TIMEZONE: %w", err)
	}
	return cfg, nil
}
