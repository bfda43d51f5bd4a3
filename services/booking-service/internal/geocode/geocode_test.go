package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNominatimClientParsesFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "1 Main St", r.URL.Query().Get("q"))
		assert.Equal(t, "cleanroute-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"lat":"52.5200","lon":"13.4050"},{"lat":"0","lon":"0"}]`))
	}))
	defer srv.Close()

	c := NewNominatimClient(NominatimConfig{BaseURL: srv.URL, UserAgent: "cleanroute-test", Rate: rate.Inf})
	p, err := c.Geocode(context.Background(), " 1 Main St ")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 52.52, p.Lat, 1e-9)
	assert.InDelta(t, 13.405, p.Lng, 1e-9)
}

func TestNominatimClientNoMatchAndErrors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewNominatimClient(NominatimConfig{BaseURL: srv.URL, Rate: rate.Inf})
	p, err := c.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, p)

	status = http.StatusTooManyRequests
	_, err = c.Geocode(context.Background(), "nowhere")
	require.Error(t, err)
}

func TestNominatimClientPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewNominatimClient(NominatimConfig{BaseURL: srv.URL, Rate: rate.Every(100 * time.Millisecond)})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Geocode(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

type countingGeocoder struct {
	calls atomic.Int32
	p     *Point
	err   error
}

func (g *countingGeocoder) Geocode(context.Context, string) (*Point, error) {
	g.calls.Add(1)
	return g.p, g.err
}

func TestCachedGeocoderMemoizesHitsAndMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	hit := &countingGeocoder{p: &Point{Lat: 1, Lng: 2}}
	c := NewCachedGeocoder(hit, rdb, time.Hour, quietLogger())
	for i := 0; i < 3; i++ {
		p, err := c.Geocode(context.Background(), "1  Main St")
		require.NoError(t, err)
		assert.Equal(t, &Point{Lat: 1, Lng: 2}, p)
	}
	assert.EqualValues(t, 1, hit.calls.Load())

	// Whitespace and case do not change the key.
	_, err := c.Geocode(context.Background(), "1 main st")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hit.calls.Load())

	miss := &countingGeocoder{}
	c = NewCachedGeocoder(miss, rdb, time.Hour, quietLogger())
	for i := 0; i < 2; i++ {
		p, err := c.Geocode(context.Background(), "unknown place")
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.EqualValues(t, 1, miss.calls.Load())

	mr.FastForward(2 * time.Hour)
	_, _ = c.Geocode(context.Background(), "unknown place")
	assert.EqualValues(t, 2, miss.calls.Load())
}

func TestCachedGeocoderFallsThroughWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	g := &countingGeocoder{p: &Point{Lat: 3, Lng: 4}}
	c := NewCachedGeocoder(g, rdb, time.Hour, quietLogger())
	p, err := c.Geocode(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, &Point{Lat: 3, Lng: 4}, p)
}

type byAddress map[string]*Point

func (b byAddress) Geocode(_ context.Context, address string) (*Point, error) {
	if address == "broken" {
		return nil, errors.New("upstream 500")
	}
	return b[address], nil
}

type memWriter struct {
	saved map[string]Point
	fail  string
}

func (m *memWriter) SetCoordinates(_ context.Context, id string, lat, lng float64) error {
	if id == m.fail {
		return errors.New("db down")
	}
	m.saved[id] = Point{Lat: lat, Lng: lng}
	return nil
}

func TestBatchToleratesFailures(t *testing.T) {
	geo := byAddress{"a": {Lat: 1, Lng: 1}, "c": {Lat: 3, Lng: 3}, "d": {Lat: 4, Lng: 4}}
	w := &memWriter{saved: map[string]Point{}, fail: "c4"}
	customers := []model.Customer{
		{ID: "c1", Address: "a"},
		{ID: "c2", Address: "broken"},
		{ID: "c3", Address: "nowhere"},
		{ID: "c4", Address: "d"},
		{ID: "c5", Address: "c"},
	}
	res, err := Batch(context.Background(), geo, w, customers, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Geocoded: 2, NoMatch: 1, Failed: 2}, res)
	assert.Equal(t, Point{Lat: 1, Lng: 1}, w.saved["c1"])
	assert.Equal(t, Point{Lat: 3, Lng: 3}, w.saved["c5"])
}

func TestBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Batch(ctx, byAddress{}, &memWriter{saved: map[string]Point{}}, []model.Customer{{ID: "c1"}}, quietLogger())
	assert.ErrorIs(t, err, context.Canceled)
}
