package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"battery-scheduler/internal/metrics"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/timedata"
)

const (
	DefaultLookback        = 3 * time.Hour
	DefaultHistoricTimeout = 5 * time.Second
)

// HistoricSource answers per-quarter averages of telemetry channels.
type HistoricSource interface {
	QueryHistoricData(ctx context.Context, from, to time.Time, channels []string) (map[string][]*float64, error)
}

// Entry is one quarter of a schedule view. Nil fields mean no data.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Price       *float64  `json:"price"`
	State       *int      `json:"state"`
	Grid        *int      `json:"grid"`
	Production  *int      `json:"production"`
	Consumption *int      `json:"consumption"`
	Ess         *int      `json:"ess"`
	Soc         *int      `json:"soc"`
}

// View merges measured history before now with the plan from now on.
type View struct {
	Schedule []Entry `json:"schedule"`
	// RunID of the schedule the future part comes from, empty if none.
	RunID    string  `json:"-"`
	Degraded []error `json:"-"`
}

type Config struct {
	Lookback        time.Duration
	HistoricTimeout time.Duration
	HorizonQuarters int
	ComponentID     string
}

type Service struct {
	cfg      Config
	store    *schedule.Store
	historic HistoricSource
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewService(cfg Config, store *schedule.Store, historic HistoricSource, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.HistoricTimeout <= 0 {
		cfg.HistoricTimeout = DefaultHistoricTimeout
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		historic: historic,
		metrics:  m,
		log:      logger.With().Str("component", "query").Logger(),
	}
}

// Len is the number of entries of every view.
func (s *Service) Len() int {
	return s.lookbackQuarters() + s.cfg.HorizonQuarters
}

func (s *Service) lookbackQuarters() int {
	return int(s.cfg.Lookback / model.QuarterDuration)
}

// GetScheduleView never fails: a failed history query yields null entries
// and the reason is listed in View.Degraded.
func (s *Service) GetScheduleView(ctx context.Context, now time.Time) View {
	return s.ViewOf(ctx, s.store.Current(), now)
}

// ViewOf builds the view with its future part taken from snap, which may be
// nil.
func (s *Service) ViewOf(ctx context.Context, snap *schedule.Snapshot, now time.Time) View {
	now = model.RoundDownToQuarter(now)
	back := s.lookbackQuarters()
	from := now.Add(-time.Duration(back) * model.QuarterDuration)

	view := View{Schedule: make([]Entry, 0, s.Len())}
	history, err := s.history(ctx, from, now)
	if err != nil {
		s.metrics.ObserveHistoricFailure()
		s.log.Warn().Err(err).Msg("historic query failed, serving nulls")
		view.Degraded = append(view.Degraded, fmt.Errorf("%w: %w", model.ErrHistoricQueryFailed, err))
	}
	for i := 0; i < back; i++ {
		view.Schedule = append(view.Schedule, s.historicEntry(from.Add(time.Duration(i)*model.QuarterDuration), i, history))
	}

	var sched *model.Schedule
	var p model.Params
	if snap != nil {
		sched, p = snap.Schedule, snap.Params
		view.RunID = sched.RunID
	}
	for i := 0; i < s.cfg.HorizonQuarters; i++ {
		view.Schedule = append(view.Schedule, futureEntry(now.Add(time.Duration(i)*model.QuarterDuration), sched, p))
	}
	return view
}

func (s *Service) channels() []string {
	return []string{
		timedata.PriceChannel(s.cfg.ComponentID),
		timedata.StateChannel(s.cfg.ComponentID),
		timedata.ChannelGrid,
		timedata.ChannelProduction,
		timedata.ChannelConsumption,
		timedata.ChannelEssDischarge,
		timedata.ChannelEssSoc,
	}
}

func (s *Service) history(ctx context.Context, from, to time.Time) (map[string][]*float64, error) {
	if s.historic == nil || !from.Before(to) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HistoricTimeout)
	defer cancel()

	type result struct {
		series map[string][]*float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		series, err := s.historic.QueryHistoricData(ctx, from, to, s.channels())
		done <- result{series, err}
	}()
	select {
	case r := <-done:
		return r.series, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) historicEntry(t time.Time, i int, history map[string][]*float64) Entry {
	at := func(ch string) *float64 {
		series := history[ch]
		if i >= len(series) {
			return nil
		}
		return series[i]
	}
	e := Entry{
		Timestamp:   t,
		Price:       at(timedata.PriceChannel(s.cfg.ComponentID)),
		State:       round(at(timedata.StateChannel(s.cfg.ComponentID))),
		Grid:        round(at(timedata.ChannelGrid)),
		Production:  round(at(timedata.ChannelProduction)),
		Consumption: round(at(timedata.ChannelConsumption)),
		Soc:         round(at(timedata.ChannelEssSoc)),
	}
	if d := round(at(timedata.ChannelEssDischarge)); d != nil {
		e.Ess = lo.ToPtr(-*d)
	}
	return e
}

func futureEntry(t time.Time, sched *model.Schedule, p model.Params) Entry {
	period, pos, ok := sched.At(t)
	if !ok {
		return placeholder(t)
	}
	e := Entry{Timestamp: t, State: lo.ToPtr(int(period.State))}
	if q := period.Quarters[pos]; !q.Missing {
		e.Price = lo.ToPtr(q.Price)
	}
	if period.Flows == nil {
		return e
	}
	f := period.Flows[pos]
	e.Grid = lo.ToPtr(model.ToPower(f.Grid))
	e.Production = lo.ToPtr(model.ToPower(f.Production))
	e.Consumption = lo.ToPtr(model.ToPower(f.Consumption))
	e.Ess = lo.ToPtr(model.ToPower(f.Ess))
	if soc, ok := model.SocPercent(f.EssInitial, p.EssTotalEnergy); ok {
		e.Soc = lo.ToPtr(soc)
	}
	return e
}

func placeholder(t time.Time) Entry {
	return Entry{Timestamp: t, State: lo.ToPtr(int(model.DefaultState))}
}

func round(v *float64) *int {
	if v == nil {
		return nil
	}
	return lo.ToPtr(int(math.Round(*v)))
}
