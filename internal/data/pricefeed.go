package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"battery-scheduler/internal/model"
)

// PriceFeedClient fetches quarter or hour prices from an HTTP price feed
// answering GET {base}/v1/prices?area=..&start=..&end=.. with a
// model.PriceResponse body.
type PriceFeedClient struct {
	APIKey  string
	BaseURL string
	Area    string
	Client  *http.Client
	Cache   *ResponseCache

	log zerolog.Logger
}

func NewPriceFeedClient(apiKey, baseURL, area string, cache *ResponseCache, logger zerolog.Logger) *PriceFeedClient {
	return &PriceFeedClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Area:    area,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		Cache: cache,
		log:   logger.With().Str("component", "pricefeed").Logger(),
	}
}

// PriceQuery defines one price feed request.
type PriceQuery struct {
	Area  string
	Start time.Time
	End   time.Time
}

// PriceFeedError is a non-200 answer or an unusable client setup.
type PriceFeedError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter string
}

func (e *PriceFeedError) Error() string {
	return e.Message
}

// Prices returns the rows overlapping [from, to). The feed is asked for
// whole UTC days around the range, so reruns with a moving start share one
// cache entry.
func (c *PriceFeedClient) Prices(ctx context.Context, from, to time.Time) ([]model.PriceInterval, error) {
	start, end := DayWindow(from, to)
	rows, err := c.Query(ctx, PriceQuery{Area: c.Area, Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return FilterPrices(rows, from, to), nil
}

// DayWindow widens [from, to) to whole UTC days.
func DayWindow(from, to time.Time) (time.Time, time.Time) {
	const day = 24 * time.Hour
	start := from.UTC().Truncate(day)
	end := to.UTC().Truncate(day)
	if end.Before(to) {
		end = end.Add(day)
	}
	if !end.After(start) {
		end = start.Add(day)
	}
	return start, end
}

func (c *PriceFeedClient) Query(ctx context.Context, params PriceQuery) ([]model.PriceInterval, error) {
	if c.BaseURL == "" {
		return nil, &PriceFeedError{Code: "MISSING_BASE_URL", Message: "price feed base URL is required"}
	}
	if params.Start.IsZero() || params.End.IsZero() {
		return nil, fmt.Errorf("start and end are required")
	}
	if !params.Start.Before(params.End) {
		return nil, fmt.Errorf("start must be before end")
	}

	cacheKey := GenerateCacheKey(params)
	if cached, found := c.Cache.Get(cacheKey); found {
		c.log.Debug().Int("intervals", len(cached)).Str("area", params.Area).Msg("price cache hit")
		return cached, nil
	}

	u, err := url.Parse(c.BaseURL + "/v1/prices")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	if params.Area != "" {
		q.Set("area", params.Area)
	}
	q.Set("start", params.Start.UTC().Format(time.RFC3339))
	q.Set("end", params.End.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.Client.Do(req)
	took := time.Since(started)
	if err != nil {
		c.log.Warn().Err(err).Dur("took", took).Msg("price request failed")
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().Int("status", resp.StatusCode).Dur("took", took).Str("area", params.Area).Msg("price response")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &PriceFeedError{
			StatusCode: resp.StatusCode,
			Code:       "UNAUTHORIZED",
			Message:    "price feed rejected the API key",
		}
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return nil, &PriceFeedError{
			StatusCode: resp.StatusCode,
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter),
			RetryAfter: retryAfter,
		}
	default:
		return nil, &PriceFeedError{
			StatusCode: resp.StatusCode,
			Code:       "API_ERROR",
			Message:    fmt.Sprintf("price feed returned status %d", resp.StatusCode),
		}
	}

	var result model.PriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.log.Info().Int("intervals", len(result.Data)).Str("area", params.Area).Msg("prices fetched")
	c.Cache.Set(cacheKey, result.Data)
	return result.Data, nil
}
