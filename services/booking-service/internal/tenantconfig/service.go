package tenantconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// Store persists the raw config row.
type Store interface {
	GetConfig(ctx context.Context, tenantID string) (Input, error)
	UpsertConfig(ctx context.Context, tenantID string, in Input) error
}

// Service loads and saves tenant configs with a write-through Redis cache.
// Redis is optional; cache failures fall through to the store.
type Service struct {
	store  Store
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewService(store Store, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: store, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(tenantID string) string { return "tenantconfig:" + tenantID }

// Get returns the tenant config, or Default when the tenant never saved one.
func (s *Service) Get(ctx context.Context, tenantID string) (Config, error) {
	if in, ok := s.cached(ctx, tenantID); ok {
		cfg, err := Parse(tenantID, in)
		if err == nil {
			return cfg, nil
		}
		s.warn("cached tenant config unreadable", tenantID, err)
	}

	in, err := s.store.GetConfig(ctx, tenantID)
	if errors.Is(err, model.ErrNotFound) {
		return Default(tenantID), nil
	}
	if err != nil {
		return Config{}, apperr.Persistence("load tenant config", err)
	}
	cfg, err := Parse(tenantID, in)
	if err != nil {
		return Config{}, fmt.Errorf("stored config for tenant %s: %w", tenantID, err)
	}
	s.fill(ctx, tenantID, in)
	return cfg, nil
}

// Upsert validates in, persists it and refreshes the cache.
func (s *Service) Upsert(ctx context.Context, tenantID string, in Input) (Config, error) {
	cfg, err := Parse(tenantID, in)
	if err != nil {
		return Config{}, err
	}
	normalized := cfg.Input()
	if err := s.store.UpsertConfig(ctx, tenantID, normalized); err != nil {
		return Config{}, apperr.Persistence("save tenant config", err)
	}
	s.fill(ctx, tenantID, normalized)
	return cfg, nil
}

func (s *Service) cached(ctx context.Context, tenantID string) (Input, bool) {
	if s.rdb == nil {
		return Input{}, false
	}
	raw, err := s.rdb.Get(ctx, cacheKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn("tenant config cache read failed", tenantID, err)
		}
		return Input{}, false
	}
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return Input{}, false
	}
	return in, true
}

func (s *Service) fill(ctx context.Context, tenantID string, in Input) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(tenantID), raw, s.ttl).Err(); err != nil {
		s.warn("tenant config cache write failed", tenantID, err)
	}
}

func (s *Service) warn(msg, tenantID string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, "tenant_id", tenantID, "err", err)
	}
}
