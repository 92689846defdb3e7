package optimizer

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-scheduler/internal/model"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func scenarioParams(quarters int, states []model.State) model.Params {
	return model.Params{
		Time:                  t0,
		EssTotalEnergy:        10000,
		EssMinSocEnergy:       0,
		EssMaxSocEnergy:       10000,
		EssInitialEnergy:      0,
		EssMaxChargeEnergy:    1250,
		EssMaxDischargeEnergy: 1250,
		Resolution:            model.QuarterDuration,
		HorizonQuarters:       quarters,
		States:                states,
	}
}

// hourly builds a horizon with one price per hour and per-hour production
// and consumption in Wh, split evenly over the quarters.
func hourly(prices []float64, production, consumption []int) model.Horizon {
	h := model.Horizon{Start: t0}
	for i, price := range prices {
		for k := 0; k < model.QuartersPerHour; k++ {
			h.Quarters = append(h.Quarters, model.QuarterPeriod{
				Time:                  t0.Add(time.Duration(model.QuartersPerHour*i+k) * model.QuarterDuration),
				Production:            production[i] / model.QuartersPerHour,
				Consumption:           consumption[i] / model.QuartersPerHour,
				Price:                 price,
				EssMaxChargeEnergy:    1250,
				EssMaxDischargeEnergy: 1250,
			})
		}
	}
	return h
}

func newTestOptimizer(cfg Config) *Optimizer {
	return New(cfg, zerolog.Nop())
}

func chargeConsumption() []model.State {
	states, _ := model.ControlModeChargeConsumption.States()
	return states
}

func assertPhysical(t *testing.T, s *model.Schedule, p model.Params) {
	t.Helper()
	for _, period := range s.Periods {
		for _, f := range period.Flows {
			assert.Zero(t, f.Balance())
			after := f.EssInitial + f.Ess
			if f.Ess > 0 {
				assert.LessOrEqual(t, after, p.EssMaxSocEnergy)
			}
			if f.Ess < 0 {
				assert.GreaterOrEqual(t, after, p.EssMinSocEnergy)
			}
		}
	}
}

func TestOptimize_ChargesCheapDischargesExpensive(t *testing.T) {
	for name, cfg := range map[string]Config{
		"exhaustive": {},
		"dp":         {ExhaustiveLimit: 1},
	} {
		t.Run(name, func(t *testing.T) {
			h := hourly([]float64{10, 50, 10, 50}, []int{0, 0, 0, 0}, []int{2000, 2000, 2000, 2000})
			p := scenarioParams(16, chargeConsumption())

			s, err := newTestOptimizer(cfg).Optimize(context.Background(), h, p)
			require.NoError(t, err)

			require.Len(t, s.Periods, 4)
			assert.Equal(t, []model.State{model.ChargeGrid, model.Balancing, model.DelayDischarge, model.Balancing},
				[]model.State{s.Periods[0].State, s.Periods[1].State, s.Periods[2].State, s.Periods[3].State})
			assert.InDelta(t, 0.09, s.TotalCost, 1e-9)
			assert.False(t, s.TimedOut)
			assert.Empty(t, s.Degraded)
			assert.NotEmpty(t, s.RunID)

			for _, i := range []int{1, 3} {
				total, ok := s.Periods[i].Total()
				require.True(t, ok)
				assert.Zero(t, total.Grid, "period %d", i+1)
				assert.Less(t, total.Ess, 0, "period %d", i+1)
			}
			for _, i := range []int{0, 2} {
				total, ok := s.Periods[i].Total()
				require.True(t, ok)
				assert.GreaterOrEqual(t, total.Grid, total.Consumption, "period %d", i+1)
				assert.GreaterOrEqual(t, total.Ess, 0, "period %d", i+1)
			}
			assertPhysical(t, s, p)
		})
	}
}

func TestOptimize_NoCapacity(t *testing.T) {
	h := hourly([]float64{10, 50, 10, 50}, []int{0, 0, 0, 0}, []int{2000, 2000, 2000, 2000})
	p := scenarioParams(16, chargeConsumption())
	p.EssTotalEnergy = 0
	p.EssMaxSocEnergy = 0

	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)

	require.Len(t, s.Periods, 4)
	for _, period := range s.Periods {
		assert.Equal(t, model.DefaultState, period.State)
		require.NotNil(t, period.Flows)
		for _, f := range period.Flows {
			assert.Zero(t, f.Ess)
			assert.Equal(t, 500, f.Grid)
		}
	}
	assert.True(t, s.DegradedBy(model.ErrCapacityInvalid))
}

func TestOptimize_PartialForecast(t *testing.T) {
	h := hourly([]float64{10, 50, 10, 50}, []int{0, 0, 0, 0}, []int{2000, 2000, 2000, 2000})
	for i := 8; i < 16; i++ {
		h.Quarters[i].Missing = true
	}
	p := scenarioParams(16, chargeConsumption())

	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)

	require.Len(t, s.Periods, 4)
	assert.Equal(t, 16, s.Quarters())
	for _, period := range s.Periods[:2] {
		assert.True(t, period.Forecast)
		assert.Len(t, period.Flows, 4)
	}
	for _, period := range s.Periods[2:] {
		assert.False(t, period.Forecast)
		assert.Nil(t, period.Flows)
		assert.Equal(t, model.DefaultState, period.State)
	}
	assert.Equal(t, model.ChargeGrid, s.Periods[0].State)
	assert.True(t, s.DegradedBy(model.ErrForecastUnavailable))
}

func TestOptimize_GapTruncatesCoverage(t *testing.T) {
	h := hourly([]float64{10, 50, 10}, []int{0, 0, 0}, []int{2000, 2000, 2000})
	h.Quarters[5].Missing = true

	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, scenarioParams(12, chargeConsumption()))
	require.NoError(t, err)

	// the hour holding the gap is split at the gap
	assert.Equal(t, 12, s.Quarters())
	for _, period := range s.Periods {
		if period.Time.Before(t0.Add(5 * model.QuarterDuration)) {
			assert.True(t, period.Forecast)
		} else {
			assert.False(t, period.Forecast)
		}
	}
	// the input horizon is untouched
	assert.False(t, h.Quarters[6].Missing)
}

func TestOptimize_NoForecast(t *testing.T) {
	h := hourly([]float64{10, 50}, []int{0, 0}, []int{2000, 2000})
	for i := range h.Quarters {
		h.Quarters[i].Missing = true
	}
	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, scenarioParams(8, chargeConsumption()))
	require.NoError(t, err)
	assert.Equal(t, 8, s.Quarters())
	for _, period := range s.Periods {
		assert.False(t, period.Forecast)
		assert.Equal(t, model.DefaultState, period.State)
	}
	assert.True(t, s.DegradedBy(model.ErrForecastUnavailable))

	empty, err := newTestOptimizer(Config{}).Optimize(context.Background(), model.Horizon{Start: t0}, scenarioParams(0, chargeConsumption()))
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestOptimize_NothingToOptimize(t *testing.T) {
	h := hourly([]float64{40, 40, 40}, []int{0, 0, 0}, []int{2000, 2000, 2000})
	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, scenarioParams(12, chargeConsumption()))
	require.NoError(t, err)

	for _, period := range s.Periods {
		assert.Equal(t, model.DefaultState, period.State)
	}
	assert.True(t, s.DegradedBy(model.ErrNothingToOptimize))
}

func TestOptimize_Refinement(t *testing.T) {
	h := hourly([]float64{0}, []int{0}, []int{2000})
	prices := []float64{10, 10, 90, 90}
	for i := range h.Quarters {
		h.Quarters[i].Price = prices[i]
	}
	p := scenarioParams(4, chargeConsumption())
	p.EssInitialEnergy = 1000

	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)

	require.Len(t, s.Periods, 2)
	assert.Equal(t, model.DelayDischarge, s.Periods[0].State)
	assert.Equal(t, model.OptimizeByQuarter, s.Periods[0].OptimizeBy)
	assert.Len(t, s.Periods[0].Quarters, 2)
	assert.Equal(t, model.Balancing, s.Periods[1].State)
	assert.Equal(t, model.OptimizeByQuarter, s.Periods[1].OptimizeBy)
	assert.InDelta(t, 0.01, s.TotalCost, 1e-9)

	coarse, err := newTestOptimizer(Config{DisableRefinement: true}).Optimize(context.Background(), h, p)
	require.NoError(t, err)
	require.Len(t, coarse.Periods, 1)
	assert.Equal(t, model.Balancing, coarse.Periods[0].State)
	assert.Equal(t, model.OptimizeByHour, coarse.Periods[0].OptimizeBy)
	assert.InDelta(t, 0.09, coarse.TotalCost, 1e-9)
}

func TestOptimize_PartialFirstHour(t *testing.T) {
	h := hourly([]float64{10, 50, 10}, []int{0, 0, 0}, []int{2000, 2000, 2000})
	h.Quarters = h.Quarters[2:]
	h.Start = h.Quarters[0].Time
	p := scenarioParams(10, chargeConsumption())
	p.Time = h.Start

	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)
	require.NotEmpty(t, s.Periods)
	assert.Len(t, s.Periods[0].Quarters, 2)
	assert.Equal(t, 10, s.Quarters())
}

func TestOptimize_ExportCredit(t *testing.T) {
	h := hourly([]float64{10, 200}, []int{0, 0}, []int{0, 400})
	states, err := model.ControlModeChargeDischarge.States()
	require.NoError(t, err)
	p := scenarioParams(8, states)
	p.EssInitialEnergy = 5000

	without, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)
	for _, period := range without.Periods {
		assert.NotEqual(t, model.DischargeGrid, period.State)
	}

	p.ExportCreditFactor = 1
	with, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)
	assert.Equal(t, model.DischargeGrid, with.Periods[len(with.Periods)-1].State)
	assert.Less(t, with.TotalCost, 0.0)
}

func TestOptimize_Timeout(t *testing.T) {
	h := hourly([]float64{10, 50, 10, 50}, []int{0, 0, 0, 0}, []int{2000, 2000, 2000, 2000})
	p := scenarioParams(16, chargeConsumption())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, cfg := range map[string]Config{"exhaustive": {}, "dp": {ExhaustiveLimit: 1}} {
		t.Run(name, func(t *testing.T) {
			s, err := newTestOptimizer(cfg).Optimize(ctx, h, p)
			require.NoError(t, err)
			assert.True(t, s.TimedOut)
			assert.True(t, s.DegradedBy(model.ErrOptimizerTimeout))
			assert.Equal(t, 16, s.Quarters())
			assertPhysical(t, s, p)
		})
	}
}

func TestOptimize_InvalidInput(t *testing.T) {
	h := hourly([]float64{10}, []int{0}, []int{2000})
	p := scenarioParams(4, chargeConsumption())

	bad := p
	bad.States = []model.State{model.ChargeGrid}
	_, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, bad)
	assert.Error(t, err)

	gap := h
	gap.Quarters = append([]model.QuarterPeriod{}, h.Quarters...)
	gap.Quarters[2].Time = gap.Quarters[2].Time.Add(time.Minute)
	_, err = newTestOptimizer(Config{}).Optimize(context.Background(), gap, p)
	assert.ErrorIs(t, err, errMisaligned)
}

// Random sites: every schedule keeps the balance and SoC window, covers the
// horizon and is reproducible.
func TestOptimize_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	modes := []model.ControlMode{model.ControlModeDelayDischarge, model.ControlModeChargeConsumption, model.ControlModeChargeDischarge}

	for run := 0; run < 20; run++ {
		hours := 2 + rng.Intn(10)
		prices := make([]float64, hours)
		production := make([]int, hours)
		consumption := make([]int, hours)
		for i := range prices {
			prices[i] = float64(rng.Intn(300)) - 20
			production[i] = rng.Intn(6000)
			consumption[i] = rng.Intn(6000)
		}
		h := hourly(prices, production, consumption)
		states, err := modes[run%len(modes)].States()
		require.NoError(t, err)
		p := scenarioParams(len(h.Quarters), states)
		p.EssMinSocEnergy = 1000
		p.EssMaxSocEnergy = 9000
		p.EssInitialEnergy = rng.Intn(10000)
		p.MaxBuyFromGrid = 1000 + rng.Intn(2000)
		p.ExportCreditFactor = float64(rng.Intn(2)) * 0.5

		cfg := Config{Buckets: 50}
		if run%2 == 1 {
			cfg.ExhaustiveLimit = 1
		}
		o := newTestOptimizer(cfg)
		first, err := o.Optimize(context.Background(), h, p)
		require.NoError(t, err)
		second, err := o.Optimize(context.Background(), h, p)
		require.NoError(t, err)

		assert.Equal(t, len(h.Quarters), first.Quarters())
		assert.Equal(t, first.States(), second.States())
		assert.Equal(t, first.TotalCost, second.TotalCost)
		assertPhysical(t, first, p.ClampInitial())

		// never worse than doing nothing
		baseline := problem{h: h, ranges: model.HourRanges(h.Quarters), p: p.ClampInitial()}.defaults()
		if baseline.infeasible == 0 {
			assert.LessOrEqual(t, first.TotalCost, baseline.cost+costEpsilon)
		}
	}
}

func TestCandidateBetter(t *testing.T) {
	b := model.Balancing
	d := model.DelayDischarge
	c := model.ChargeGrid

	assert.True(t, candidate{cost: 1}.better(candidate{cost: 2}))
	assert.True(t, candidate{cost: 5}.better(candidate{cost: 1, infeasible: 1}))
	assert.True(t, candidate{cost: 1, nonDefault: 0, states: []model.State{b, b}}.
		better(candidate{cost: 1 + 1e-12, nonDefault: 1, states: []model.State{b, d}}))
	assert.True(t, candidate{cost: 1, nonDefault: 1, states: []model.State{d, b}}.
		better(candidate{cost: 1, nonDefault: 1, states: []model.State{c, b}}))
	assert.False(t, candidate{cost: 1, nonDefault: 1, states: []model.State{c, b}}.
		better(candidate{cost: 1, nonDefault: 1, states: []model.State{d, b}}))
}

func TestRelabelNoops(t *testing.T) {
	h := hourly([]float64{10, 50}, []int{0, 0}, []int{0, 0})
	p := scenarioParams(8, chargeConsumption())
	p.EssInitialEnergy = p.EssMaxSocEnergy

	a := problem{h: h, ranges: model.HourRanges(h.Quarters), p: p}.
		assignment([]model.State{model.ChargeGrid, model.DelayDischarge})
	out := relabelNoops(h, a, p)
	assert.Equal(t, model.Balancing, out[0].State)
	assert.Equal(t, model.Balancing, out[1].State)
	assert.Equal(t, model.ChargeGrid, a[0].State)
}

func TestPinFirstQuarter(t *testing.T) {
	h := hourly([]float64{10, 50, 10, 50}, []int{0, 0, 0, 0}, []int{2000, 2000, 2000, 2000})
	p := scenarioParams(16, chargeConsumption())
	s, err := newTestOptimizer(Config{}).Optimize(context.Background(), h, p)
	require.NoError(t, err)
	require.Equal(t, model.ChargeGrid, s.Periods[0].State)

	same, err := PinFirstQuarter(s, p, model.ChargeGrid)
	require.NoError(t, err)
	assert.Same(t, s, same)

	pinned, err := PinFirstQuarter(s, p, model.Balancing)
	require.NoError(t, err)
	assert.Equal(t, s.RunID, pinned.RunID)
	assert.Equal(t, 16, pinned.Quarters())
	require.Len(t, pinned.Periods, 5)
	assert.Equal(t, model.Balancing, pinned.Periods[0].State)
	assert.Equal(t, model.OptimizeByQuarter, pinned.Periods[0].OptimizeBy)
	assert.Len(t, pinned.Periods[0].Quarters, 1)
	assert.Equal(t, model.ChargeGrid, pinned.Periods[1].State)
	assert.Len(t, pinned.Periods[1].Quarters, 3)
	assertPhysical(t, pinned, p)
	// original untouched
	assert.Equal(t, model.ChargeGrid, s.Periods[0].State)
}

// Bucket merging may lose the optimum, but never by more than the value of
// one bucket of energy per unit.
func TestDynamic_CloseToExhaustive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	modes := []model.ControlMode{model.ControlModeChargeConsumption, model.ControlModeChargeDischarge}
	ctx := context.Background()

	for run := 0; run < 200; run++ {
		hours := 2 + rng.Intn(5)
		prices := make([]float64, hours)
		production := make([]int, hours)
		consumption := make([]int, hours)
		maxPrice := 0.0
		for i := range prices {
			prices[i] = float64(rng.Intn(300)) - 20
			production[i] = rng.Intn(6000)
			consumption[i] = rng.Intn(6000)
			maxPrice = max(maxPrice, math.Abs(prices[i]))
		}
		h := hourly(prices, production, consumption)
		states, err := modes[run%len(modes)].States()
		require.NoError(t, err)
		p := scenarioParams(len(h.Quarters), states)
		p.EssMinSocEnergy = 1000
		p.EssMaxSocEnergy = 9000
		p.EssInitialEnergy = rng.Intn(10000)
		p.ExportCreditFactor = float64(rng.Intn(2)) * 0.5
		p = p.ClampInitial()

		pr := problem{h: h, ranges: model.HourRanges(h.Quarters), p: p}
		exact, timedOut := exhaustive{workers: 2}.run(ctx, pr)
		require.False(t, timedOut)
		approx, timedOut := dynamic{buckets: DefaultBuckets}.run(ctx, pr)
		require.False(t, timedOut)

		bucket := float64(p.EssTotalEnergy) / DefaultBuckets
		tolerance := float64(len(pr.ranges)) * bucket * maxPrice / 1e6
		assert.Zero(t, approx.infeasible, "run %d", run)
		assert.GreaterOrEqual(t, approx.cost, exact.cost-costEpsilon, "run %d", run)
		assert.LessOrEqual(t, approx.cost, exact.cost+tolerance, "run %d", run)
		// the reported cost belongs to the returned states
		assert.InDelta(t, pr.evaluate(approx.states).cost, approx.cost, 1e-6, "run %d", run)
	}
}
