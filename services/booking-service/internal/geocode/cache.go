package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// noMatch is cached for addresses the upstream could not resolve.
const noMatch = "none"

// CachedGeocoder memoizes results, including misses, in Redis. Cache errors
// are logged and the upstream is asked instead.
type CachedGeocoder struct {
	next   Geocoder
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedGeocoder(next Geocoder, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedGeocoder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedGeocoder{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(address), " "))))
	return "geocode:" + hex.EncodeToString(sum[:])
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (*Point, error) {
	key := cacheKey(address)
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == noMatch {
			return nil, nil
		}
		var p Point
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("geocode cache read failed", "err", err)
	}

	p, err := c.next.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	val := noMatch
	if p != nil {
		b, _ := json.Marshal(p)
		val = string(b)
	}
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("geocode cache write failed", "err", err)
	}
	return p, nil
}
