package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"battery-scheduler/internal/model"
)

func LoadForecastJSON(path string) (model.ForecastSnapshot, error) {
	var fc model.ForecastSnapshot
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("parse forecast %s: %w", path, err)
	}
	return fc, nil
}

func LoadPricesJSON(path string) (*model.PriceResponse, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp model.PriceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse prices %s: %w", path, err)
	}
	return &resp, nil
}

// FilterPrices keeps the rows overlapping [from, to).
func FilterPrices(rows []model.PriceInterval, from, to time.Time) []model.PriceInterval {
	out := make([]model.PriceInterval, 0, len(rows))
	for _, r := range rows {
		if r.IntervalEndUTC.After(from) && r.IntervalStartUTC.Before(to) {
			out = append(out, r)
		}
	}
	return out
}

// FileSource serves forecasts and prices from JSON files, re-read on every
// call so they can be replaced while the service runs.
type FileSource struct {
	ForecastPath string
	PricePath    string
}

func (f FileSource) Forecast(ctx context.Context) (model.ForecastSnapshot, error) {
	if f.ForecastPath == "" {
		return model.ForecastSnapshot{}, model.ErrForecastUnavailable
	}
	return LoadForecastJSON(f.ForecastPath)
}

func (f FileSource) Prices(ctx context.Context, from, to time.Time) ([]model.PriceInterval, error) {
	if f.PricePath == "" {
		return nil, model.ErrForecastUnavailable
	}
	resp, err := LoadPricesJSON(f.PricePath)
	if err != nil {
		return nil, err
	}
	return FilterPrices(resp.Data, from, to), nil
}
