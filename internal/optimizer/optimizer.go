package optimizer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// DefaultExhaustiveLimit is the largest search space evaluated exhaustively.
const DefaultExhaustiveLimit = 1 << 16

type Config struct {
	// ExhaustiveLimit bounds len(states)^periods for the exhaustive search;
	// larger problems use the DP.
	ExhaustiveLimit int
	// Buckets is the DP energy discretization.
	Buckets int
	// Workers limits parallel candidate evaluation; zero means GOMAXPROCS.
	Workers int
	// DisableRefinement keeps every period at hour resolution.
	DisableRefinement bool
}

// Optimizer turns a horizon into a minimum-cost Schedule.
type Optimizer struct {
	cfg Config
	sim *simulator.Simulator
	log zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Optimizer {
	if cfg.ExhaustiveLimit <= 0 {
		cfg.ExhaustiveLimit = DefaultExhaustiveLimit
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = DefaultBuckets
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{
		cfg: cfg,
		sim: simulator.New(),
		log: logger.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize computes the Schedule for h. It only fails on malformed input;
// missing data, an unusable capacity and an expired ctx degrade the result
// and are listed in Schedule.Degraded.
func (o *Optimizer) Optimize(ctx context.Context, h model.Horizon, p model.Params) (*model.Schedule, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := checkHorizon(h); err != nil {
		return nil, err
	}
	p = p.ClampInitial()
	started := time.Now()

	var degraded []error
	timedOut := false

	// truncate to the covered prefix, the rest is filled with default periods
	covered := h.Covered()
	full := model.Horizon{Start: h.Start, Quarters: make([]model.QuarterPeriod, len(h.Quarters))}
	copy(full.Quarters, h.Quarters)
	for i := covered; i < len(full.Quarters); i++ {
		full.Quarters[i].Missing = true
	}
	if covered < len(full.Quarters) || covered == 0 {
		degraded = append(degraded, fmt.Errorf("%d of %d quarters covered: %w", covered, len(full.Quarters), model.ErrForecastUnavailable))
	}
	prefix := model.Horizon{Start: h.Start, Quarters: full.Quarters[:covered]}
	pr := problem{h: prefix, ranges: model.HourRanges(prefix.Quarters), p: p}

	var assignment simulator.Assignment
	searchName := "none"
	switch {
	case !p.CapacityValid():
		degraded = append(degraded, fmt.Errorf("capacity %d Wh: %w", p.EssTotalEnergy, model.ErrCapacityInvalid))
		p = p.WithoutStorage()
		pr.p = p
		assignment = pr.assignment(pr.defaults().states)
	case covered == 0:
		// nothing to search
	case nothingToOptimize(prefix.Quarters):
		degraded = append(degraded, model.ErrNothingToOptimize)
		assignment = pr.assignment(pr.defaults().states)
	case len(p.States) == 1:
		assignment = pr.assignment(pr.defaults().states)
	default:
		s := o.strategy(len(p.States), len(pr.ranges))
		searchName = s.name()
		best, to := s.run(ctx, pr)
		timedOut = timedOut || to
		// bucket merging can lose the all-default path
		if d := pr.defaults(); d.better(best) {
			best = d
		}
		assignment = pr.assignment(best.states)
		if !o.cfg.DisableRefinement && !timedOut {
			assignment, to = refine(ctx, prefix, assignment, p)
			timedOut = timedOut || to
		}
		assignment = relabelNoops(prefix, assignment, p)
	}

	for _, r := range model.HourRanges(full.Quarters[covered:]) {
		assignment = append(assignment, simulator.Unit{
			From:       covered + r[0],
			To:         covered + r[1],
			State:      model.DefaultState,
			OptimizeBy: model.OptimizeByHour,
		})
	}

	res, err := o.sim.Run(full, assignment, p)
	if err != nil {
		return nil, fmt.Errorf("simulate schedule: %w", err)
	}
	schedule := res.Schedule
	schedule.RunID = uuid.NewString()
	schedule.TimedOut = timedOut
	if timedOut {
		degraded = append(degraded, fmt.Errorf("%s search: %w", searchName, model.ErrOptimizerTimeout))
	}
	schedule.Degraded = append(degraded, schedule.Degraded...)

	o.log.Info().
		Str("run_id", schedule.RunID).
		Str("search", searchName).
		Int("quarters", len(full.Quarters)).
		Int("covered", covered).
		Int("periods", len(schedule.Periods)).
		Float64("cost", schedule.TotalCost).
		Bool("timed_out", timedOut).
		Dur("took", time.Since(started)).
		Msg("optimized schedule")
	for _, d := range schedule.Degraded {
		o.log.Warn().Str("run_id", schedule.RunID).Err(d).Msg("schedule degraded")
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel && o.log.GetLevel() <= zerolog.DebugLevel {
		for _, line := range Dump(p, schedule) {
			o.log.Debug().Str("run_id", schedule.RunID).Msg(line)
		}
	}
	return schedule, nil
}

func (o *Optimizer) strategy(states, units int) search {
	total := 1
	for range units {
		total *= states
		if total > o.cfg.ExhaustiveLimit {
			return dynamic{buckets: o.cfg.Buckets}
		}
	}
	return exhaustive{workers: o.cfg.Workers}
}

// nothingToOptimize is true when no state choice can change the cost:
// production and consumption are all zero, or every price is the same.
func nothingToOptimize(quarters []model.QuarterPeriod) bool {
	allZero := true
	for _, q := range quarters {
		if q.Production != 0 || q.Consumption != 0 {
			allZero = false
			break
		}
	}
	return allZero || samePrice(quarters)
}

var errMisaligned = errors.New("horizon quarters are not contiguous")

func checkHorizon(h model.Horizon) error {
	if !h.Start.Equal(model.RoundDownToQuarter(h.Start)) {
		return fmt.Errorf("horizon start %s is not quarter aligned", h.Start.Format(time.RFC3339))
	}
	for i, q := range h.Quarters {
		if !q.Time.Equal(h.Start.Add(time.Duration(i) * model.QuarterDuration)) {
			return fmt.Errorf("quarter %d at %s: %w", i, q.Time.Format(time.RFC3339), errMisaligned)
		}
	}
	return nil
}
