package timedata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"battery-scheduler/internal/model"
)

// Served is the view of the schedule the device is driven from.
type Served interface {
	Decide(now time.Time, soc *int) model.Decision
}

// Recorder writes the served state and price of every quarter to the
// component's channels, so the history half of a schedule view does not
// depend on an external store.
type Recorder struct {
	repo        *Repository
	served      Served
	componentID string
	log         zerolog.Logger
}

func NewRecorder(repo *Repository, served Served, componentID string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:        repo,
		served:      served,
		componentID: componentID,
		log:         logger.With().Str("component", "recorder").Logger(),
	}
}

// Record stores the state and price of the quarter now falls in.
func (r *Recorder) Record(ctx context.Context, now time.Time) (model.State, error) {
	quarter := model.RoundDownToQuarter(now)
	soc, err := r.repo.LatestSoc(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("read soc")
	}
	d := r.served.Decide(now, soc)
	state := d.State

	samples := []Sample{{Channel: StateChannel(r.componentID), Time: quarter, Value: float64(state)}}
	if period := d.Period; d.Covered {
		i := int(quarter.Sub(period.Time) / model.QuarterDuration)
		if i >= 0 && i < len(period.Quarters) && !period.Quarters[i].Missing {
			samples = append(samples, Sample{Channel: PriceChannel(r.componentID), Time: quarter, Value: period.Quarters[i].Price})
		}
	}
	if err := r.repo.Add(ctx, samples...); err != nil {
		return state, err
	}
	return state, nil
}

// Run records once now and then at every quarter boundary until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	for {
		now := time.Now()
		if state, err := r.Record(ctx, now); err != nil {
			r.log.Warn().Err(err).Msg("record served state")
		} else {
			r.log.Debug().Stringer("state", state).Msg("recorded served state")
		}
		next := model.RoundDownToQuarter(now).Add(model.QuarterDuration)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
	}
}
