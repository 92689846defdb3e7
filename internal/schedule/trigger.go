package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"battery-scheduler/internal/metrics"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/optimizer"
)

type TriggerConfig struct {
	// DailyAt is a local "HH:MM" at which a run is started every day, e.g.
	// after day-ahead prices are published. Empty disables it.
	DailyAt string
	// Interval re-runs the optimizer on boundaries of this duration. Zero
	// disables it.
	Interval time.Duration
	// Budget caps the execution limit of a single run. Zero means no cap.
	Budget time.Duration
	// PinCurrentQuarter keeps the state of the running quarter across a republish.
	PinCurrentQuarter bool
	Location          *time.Location
}

// Trigger is the single writer of a Store. Requests from any goroutine are
// coalesced into at most one pending run.
type Trigger struct {
	cfg      TriggerConfig
	dailyMin int
	hasDaily bool

	planner Planner
	store   *Store
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	requests chan string
	running  atomic.Bool
	seq      atomic.Uint64
}

func NewTrigger(cfg TriggerConfig, planner Planner, store *Store, m *metrics.Metrics, logger zerolog.Logger) (*Trigger, error) {
	t := &Trigger{
		cfg:      cfg,
		planner:  planner,
		store:    store,
		metrics:  m,
		log:      logger.With().Str("component", "trigger").Logger(),
		now:      time.Now,
		requests: make(chan string, 1),
	}
	if t.cfg.Location == nil {
		t.cfg.Location = time.Local
	}
	if cfg.DailyAt != "" {
		mins, err := parseHHMM(cfg.DailyAt)
		if err != nil {
			return nil, err
		}
		t.dailyMin = mins
		t.hasDaily = true
	}
	if cfg.Interval < 0 {
		return nil, errors.New("interval must be >= 0")
	}
	return t, nil
}

// Request asks for a run. It never blocks; it returns false when a run is
// already pending and this request was merged into it.
func (t *Trigger) Request(source string) bool {
	select {
	case t.requests <- source:
		t.metrics.ObserveRequest(source, true)
		return true
	default:
		t.metrics.ObserveRequest(source, false)
		t.log.Debug().Str("source", source).Msg("recompute already pending")
		return false
	}
}

// Running reports whether a run is in progress.
func (t *Trigger) Running() bool {
	return t.running.Load()
}

// Run serves requests and cadences until ctx is done. It starts with one run.
func (t *Trigger) Run(ctx context.Context) error {
	t.Request("startup")

	var intervalC, dailyC <-chan time.Time
	var intervalTimer, dailyTimer *time.Timer
	if t.cfg.Interval > 0 {
		intervalTimer = time.NewTimer(t.untilInterval())
		defer intervalTimer.Stop()
		intervalC = intervalTimer.C
	}
	if t.hasDaily {
		dailyTimer = time.NewTimer(t.untilDaily())
		defer dailyTimer.Stop()
		dailyC = dailyTimer.C
	}

	t.log.Info().
		Str("daily_at", t.cfg.DailyAt).
		Dur("interval", t.cfg.Interval).
		Msg("recompute trigger started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case source := <-t.requests:
			_ = t.RunOnce(ctx, source)
		case <-intervalC:
			_ = t.RunOnce(ctx, "interval")
			intervalTimer.Reset(t.untilInterval())
		case <-dailyC:
			_ = t.RunOnce(ctx, "daily")
			dailyTimer.Reset(t.untilDaily())
		}
	}
}

// RunOnce plans and publishes one schedule. On error the published snapshot
// is left untouched.
func (t *Trigger) RunOnce(ctx context.Context, source string) error {
	t.running.Store(true)
	defer t.running.Store(false)

	seq := t.seq.Add(1)
	now := t.now()
	limit := ExecutionLimit(now)
	if t.cfg.Budget > 0 && limit > t.cfg.Budget {
		limit = t.cfg.Budget
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	started := time.Now()
	s, p, err := t.planner.Plan(runCtx, now)
	took := time.Since(started)
	if err != nil {
		t.metrics.ObserveRun("failed", took.Seconds())
		t.log.Error().Err(err).Str("source", source).Uint64("seq", seq).Msg("recompute failed, keeping previous schedule")
		return err
	}

	if t.cfg.PinCurrentQuarter {
		s = t.pin(s, p, now)
	}

	snap := &Snapshot{Schedule: s, Params: p, Seq: seq, ComputedAt: now}
	if !t.store.Publish(snap) {
		t.metrics.ObserveRun("stale", took.Seconds())
		t.log.Warn().Str("source", source).Uint64("seq", seq).Msg("discarding stale schedule")
		return nil
	}

	reasons := make([]string, 0, len(s.Degraded))
	for _, d := range s.Degraded {
		reasons = append(reasons, degradedReason(d))
	}
	t.metrics.ObserveRun("published", took.Seconds())
	t.metrics.ObserveSchedule(s.TotalCost, len(s.Periods), reasons)
	t.log.Info().
		Str("source", source).
		Uint64("seq", seq).
		Str("run_id", s.RunID).
		Int("periods", len(s.Periods)).
		Float64("cost", s.TotalCost).
		Dur("limit", limit).
		Dur("took", took).
		Msg("schedule published")
	return nil
}

// pin keeps the previously published state for the quarter now falls in.
func (t *Trigger) pin(s *model.Schedule, p model.Params, now time.Time) *model.Schedule {
	prev := t.store.Current()
	if prev == nil || s.Empty() || !s.Start.Equal(model.RoundDownToQuarter(now)) {
		return s
	}
	period, _, ok := prev.Schedule.At(now)
	if !ok {
		return s
	}
	pinned, err := optimizer.PinFirstQuarter(s, p, period.State)
	if err != nil {
		t.log.Warn().Err(err).Msg("could not pin current quarter")
		return s
	}
	return pinned
}

func (t *Trigger) untilInterval() time.Duration {
	now := t.now()
	next := now.Truncate(t.cfg.Interval).Add(t.cfg.Interval)
	return next.Sub(now)
}

func (t *Trigger) untilDaily() time.Duration {
	now := t.now().In(t.cfg.Location)
	return nextDaily(now, t.dailyMin).Sub(now)
}

var degradedReasons = []error{
	model.ErrForecastUnavailable,
	model.ErrInfeasibleSlice,
	model.ErrOptimizerTimeout,
	model.ErrCapacityInvalid,
	model.ErrNothingToOptimize,
}

func degradedReason(err error) string {
	for _, r := range degradedReasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "other"
}
