package schedule

import (
	"context"
	"fmt"
	"time"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/optimizer"
)

type ForecastSource interface {
	Forecast(ctx context.Context) (model.ForecastSnapshot, error)
}

type PriceSource interface {
	Prices(ctx context.Context, from, to time.Time) ([]model.PriceInterval, error)
}

type EssSource interface {
	Ess(ctx context.Context) (model.EssReading, error)
}

// Planner produces one Schedule with the Params it was computed for.
type Planner interface {
	Plan(ctx context.Context, now time.Time) (*model.Schedule, model.Params, error)
}

// SourcePlanner collects live inputs and runs the optimizer on them.
type SourcePlanner struct {
	Forecasts ForecastSource
	Prices    PriceSource
	Ess       EssSource
	Optimizer *optimizer.Optimizer
	Site      optimizer.Site
}

func (sp *SourcePlanner) Plan(ctx context.Context, now time.Time) (*model.Schedule, model.Params, error) {
	reading, err := sp.Ess.Ess(ctx)
	if err != nil {
		return nil, model.Params{}, fmt.Errorf("read ess: %w", err)
	}
	p, err := optimizer.BuildParams(now, reading, sp.Site)
	if err != nil {
		return nil, model.Params{}, fmt.Errorf("build params: %w", err)
	}

	fc, err := sp.Forecasts.Forecast(ctx)
	if err != nil {
		return nil, p, fmt.Errorf("forecast: %w: %w", model.ErrForecastUnavailable, err)
	}
	end := p.Time.Add(time.Duration(p.HorizonQuarters) * model.QuarterDuration)
	prices, err := sp.Prices.Prices(ctx, p.Time, end)
	if err != nil {
		return nil, p, fmt.Errorf("prices: %w: %w", model.ErrForecastUnavailable, err)
	}

	h := optimizer.BuildHorizon(fc, prices, p)
	s, err := sp.Optimizer.Optimize(ctx, h, p)
	if err != nil {
		return nil, p, err
	}
	return s, p, nil
}
