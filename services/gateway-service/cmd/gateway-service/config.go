package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cleanroute/cleanroute/libs/config"
	"github.com/cleanroute/cleanroute/services/gateway-service/internal/router"
)

type appConfig struct {
	Service        string
	Port           string
	JWTSecret      string
	RedisURL       string
	CORSOrigins    []string
	BodyLimit      int64
	RequestTimeout time.Duration
	RateLimit      int
	RateLimitOpen  bool
	Upstreams      router.Upstreams
}

func loadConfig() (appConfig, error) {
	config.LoadDotEnv()

	cfg := appConfig{
		Service:       config.String("SERVICE_NAME", "gateway-service"),
		RedisURL:      config.String("REDIS_URL", ""),
		CORSOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
		RateLimitOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return cfg, err
	}
	limit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		return cfg, err
	}
	cfg.BodyLimit = int64(limit)
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}

	for _, u := range []struct {
		key, fallback string
		dst           **url.URL
	}{
		{"AUTH_URL", "http://auth-service:8081", &cfg.Upstreams.Auth},
		{"BOOKING_URL", "http://booking-service:8083", &cfg.Upstreams.Booking},
		{"BILLING_URL", "http://billing-service:8084", &cfg.Upstreams.Billing},
		{"NOTIFICATION_URL", "http://notification-service:8085", &cfg.Upstreams.Notification},
	} {
		parsed, err := url.Parse(config.String(u.key, u.fallback))
		if err != nil || parsed.Host == "" {
			return cfg, fmt.Errorf("invalid %s", u.key)
		}
		*u.dst = parsed
	}
	return cfg, nil
}
