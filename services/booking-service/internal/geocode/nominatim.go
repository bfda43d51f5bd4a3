// Package geocode resolves customer addresses to coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geocoder returns nil with no error when the address has no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Point, error)
}

// NominatimClient talks to a Nominatim-compatible /search endpoint. Requests
// are paced by a shared limiter; the public service allows one per second.
type NominatimClient struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	http      *http.Client
}

type NominatimConfig struct {
	BaseURL   string
	UserAgent string
	Rate      rate.Limit
	Timeout   time.Duration
}

func NewNominatimClient(cfg NominatimConfig) *NominatimClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cleanroute/1.0"
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &NominatimClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(cfg.Rate, 1),
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *NominatimClient) Geocode(ctx context.Context, address string) (*Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geocoder returned %d", resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return &Point{Lat: lat, Lng: lng}, nil
}
