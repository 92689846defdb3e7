package timedata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"battery-scheduler/internal/model"
)

// EssSource reads the live storage state from the latest telemetry.
// Capacity comes from the ChannelEssCapacity series when present, otherwise
// from the configured nominal value.
type EssSource struct {
	Repo              *Repository
	Capacity          int
	MaxChargePower    int
	MaxDischargePower int
	// MaxAge rejects a SoC sample older than this; zero accepts any age.
	MaxAge time.Duration

	now func() time.Time
}

var ErrStaleReading = errors.New("ess reading is stale")

func (e *EssSource) Ess(ctx context.Context) (model.EssReading, error) {
	soc, err := e.Repo.Latest(ctx, ChannelEssSoc)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EssReading{}, fmt.Errorf("no %s sample: %w", ChannelEssSoc, model.ErrNoDevice)
	}
	if err != nil {
		return model.EssReading{}, err
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	if e.MaxAge > 0 && now().Sub(soc.Time) > e.MaxAge {
		return model.EssReading{}, fmt.Errorf("soc from %s: %w", soc.Time.Format(time.RFC3339), ErrStaleReading)
	}

	capacity := e.Capacity
	if c, err := e.Repo.Latest(ctx, ChannelEssCapacity); err == nil {
		capacity = int(c.Value)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EssReading{}, err
	}

	return model.EssReading{
		Capacity:          capacity,
		Soc:               soc.Value,
		MaxChargePower:    e.MaxChargePower,
		MaxDischargePower: e.MaxDischargePower,
	}, nil
}
