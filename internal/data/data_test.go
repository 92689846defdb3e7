package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-scheduler/internal/model"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func hourRows(prices ...float64) []model.PriceInterval {
	rows := make([]model.PriceInterval, len(prices))
	for i, p := range prices {
		start := t0.Add(time.Duration(i) * time.Hour)
		rows[i] = model.PriceInterval{IntervalStartUTC: start, IntervalEndUTC: start.Add(time.Hour), Price: lo.ToPtr(p)}
	}
	return rows
}

func TestResponseCache(t *testing.T) {
	c := NewResponseCache(time.Hour)
	now := t0
	c.now = func() time.Time { return now }

	key := GenerateCacheKey(PriceQuery{Area: "DE", Start: t0, End: t0.Add(time.Hour)})
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, hourRows(10))
	rows, ok := c.Get(key)
	require.True(t, ok)
	assert.Len(t, rows, 1)

	now = now.Add(2 * time.Hour)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
	c.Prune()
	assert.Equal(t, 0, c.Len())

	assert.NotEqual(t, key, GenerateCacheKey(PriceQuery{Area: "AT", Start: t0, End: t0.Add(time.Hour)}))
}

func TestResponseCache_Nil(t *testing.T) {
	c := NewResponseCache(0)
	assert.Nil(t, c)
	c.Set("k", hourRows(1))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestPriceFeedClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/prices", r.URL.Path)
		assert.Equal(t, "DE", r.URL.Query().Get("area"))
		assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(model.PriceResponse{StatusCode: 200, Data: hourRows(30, 40)})
	}))
	defer srv.Close()

	c := NewPriceFeedClient("secret-key", srv.URL, "DE", NewResponseCache(time.Hour), zerolog.Nop())
	rows, err := c.Prices(context.Background(), t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 40.0, *rows[1].Price)

	_, err = c.Prices(context.Background(), t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPriceFeedClient_MovingStartHitsCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, t0.Format(time.RFC3339), r.URL.Query().Get("start"))
		assert.Equal(t, t0.Add(48*time.Hour).Format(time.RFC3339), r.URL.Query().Get("end"))
		prices := make([]float64, 48)
		for i := range prices {
			prices[i] = float64(i)
		}
		_ = json.NewEncoder(w).Encode(model.PriceResponse{StatusCode: 200, Data: hourRows(prices...)})
	}))
	defer srv.Close()

	c := NewPriceFeedClient("", srv.URL, "DE", NewResponseCache(time.Hour), zerolog.Nop())
	from := t0.Add(10 * time.Hour)
	rows, err := c.Prices(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 24)
	assert.Equal(t, 10.0, *rows[0].Price)

	from = from.Add(15 * time.Minute)
	rows, err = c.Prices(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 25)
	assert.Equal(t, 10.0, *rows[0].Price)
	assert.Equal(t, 34.0, *rows[24].Price)

	assert.Equal(t, int32(1), hits.Load())
}

func TestDayWindow(t *testing.T) {
	start, end := DayWindow(t0.Add(10*time.Hour), t0.Add(34*time.Hour))
	assert.Equal(t, t0, start)
	assert.Equal(t, t0.Add(48*time.Hour), end)

	start, end = DayWindow(t0, t0.Add(24*time.Hour))
	assert.Equal(t, t0, start)
	assert.Equal(t, t0.Add(24*time.Hour), end)

	berlin := time.FixedZone("CEST", 2*3600)
	start, _ = DayWindow(time.Date(2024, 5, 1, 1, 0, 0, 0, berlin), t0.Add(time.Hour))
	assert.Equal(t, t0.Add(-24*time.Hour), start)
}

func TestPriceFeedClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewPriceFeedClient("", srv.URL, "", nil, zerolog.Nop())
	_, err := c.Prices(context.Background(), t0, t0.Add(time.Hour))
	var feedErr *PriceFeedError
	require.ErrorAs(t, err, &feedErr)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", feedErr.Code)
	assert.Equal(t, "60", feedErr.RetryAfter)

	_, err = c.Prices(context.Background(), t0.Add(time.Hour), t0)
	assert.Error(t, err)

	_, err = NewPriceFeedClient("", "", "", nil, zerolog.Nop()).Prices(context.Background(), t0, t0.Add(time.Hour))
	require.ErrorAs(t, err, &feedErr)
	assert.Equal(t, "MISSING_BASE_URL", feedErr.Code)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	fcPath := filepath.Join(dir, "forecast.json")
	pricePath := filepath.Join(dir, "prices.json")

	require.NoError(t, os.WriteFile(fcPath, []byte(`{
		"start": "2024-05-01T00:00:00Z",
		"production": [0, 120, null],
		"consumption": [450, 460, 470]
	}`), 0o644))
	raw, err := json.Marshal(model.PriceResponse{Data: hourRows(10, 20, 30)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pricePath, raw, 0o644))

	src := FileSource{ForecastPath: fcPath, PricePath: pricePath}
	fc, err := src.Forecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0, fc.Start.UTC())
	assert.Nil(t, fc.Production[2])
	assert.Equal(t, 460, *fc.Consumption[1])

	rows, err := src.Prices(context.Background(), t0.Add(30*time.Minute), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 10.0, *rows[0].Price)

	_, err = FileSource{}.Forecast(context.Background())
	assert.ErrorIs(t, err, model.ErrForecastUnavailable)
}

func TestMemoryForecast(t *testing.T) {
	var m MemoryForecast
	_, err := m.Forecast(context.Background())
	assert.ErrorIs(t, err, model.ErrForecastUnavailable)
	assert.True(t, m.Updated().IsZero())

	m.Set(model.ForecastSnapshot{Start: t0, Consumption: []*int{lo.ToPtr(1)}})
	fc, err := m.Forecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0, fc.Start)
	assert.False(t, m.Updated().IsZero())
}
