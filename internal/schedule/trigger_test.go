package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-scheduler/internal/metrics"
	"battery-scheduler/internal/model"
)

type fakePlanner struct {
	mu       sync.Mutex
	states   []model.State
	err      error
	calls    atomic.Int32
	block    chan struct{}
	deadline time.Duration
}

func (f *fakePlanner) Plan(ctx context.Context, now time.Time) (*model.Schedule, model.Params, error) {
	f.calls.Add(1)
	if dl, ok := ctx.Deadline(); ok {
		f.mu.Lock()
		f.deadline = time.Until(dl)
		f.mu.Unlock()
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, model.Params{}, f.err
	}
	start := model.RoundDownToQuarter(now)
	var periods []model.Period
	for i, s := range f.states {
		q := model.QuarterPeriod{Time: start.Add(time.Duration(i) * model.QuarterDuration), Consumption: 100}
		periods = append(periods, model.Period{
			Time:       q.Time,
			State:      s,
			OptimizeBy: model.OptimizeByQuarter,
			Quarters:   []model.QuarterPeriod{q},
			Flows:      []model.EnergyFlow{{Grid: 100, Consumption: 100}},
			Forecast:   true,
		})
	}
	sched, err := model.NewSchedule(start, periods)
	if err != nil {
		return nil, model.Params{}, err
	}
	p := testParams()
	p.Time = start
	return sched, p, nil
}

func (f *fakePlanner) set(states []model.State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states, f.err = states, err
}

func newTestTrigger(t *testing.T, cfg TriggerConfig, pl Planner) (*Trigger, *Store, *metrics.Metrics) {
	t.Helper()
	st := NewStore()
	m := metrics.New(prometheus.NewRegistry())
	tr, err := NewTrigger(cfg, pl, st, m, zerolog.Nop())
	require.NoError(t, err)
	tr.now = func() time.Time { return t0.Add(3 * time.Minute) }
	return tr, st, m
}

func TestTrigger_RunOncePublishes(t *testing.T) {
	pl := &fakePlanner{states: []model.State{model.ChargeGrid, model.Balancing}}
	tr, st, m := newTestTrigger(t, TriggerConfig{Budget: 5 * time.Second}, pl)

	require.NoError(t, tr.RunOnce(context.Background(), "manual"))
	snap := st.Current()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, t0, snap.Schedule.Start)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizerRuns.WithLabelValues("published")))

	pl.mu.Lock()
	assert.LessOrEqual(t, pl.deadline, 5*time.Second)
	pl.mu.Unlock()
}

func TestTrigger_KeepsPreviousOnError(t *testing.T) {
	pl := &fakePlanner{states: []model.State{model.ChargeGrid}}
	tr, st, m := newTestTrigger(t, TriggerConfig{}, pl)

	require.NoError(t, tr.RunOnce(context.Background(), "manual"))
	first := st.Current()

	pl.set(nil, errors.New("price feed down"))
	assert.Error(t, tr.RunOnce(context.Background(), "interval"))
	assert.Same(t, first, st.Current())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizerRuns.WithLabelValues("failed")))
}

func TestTrigger_PinsCurrentQuarter(t *testing.T) {
	pl := &fakePlanner{states: []model.State{model.ChargeGrid, model.ChargeGrid}}
	tr, st, _ := newTestTrigger(t, TriggerConfig{PinCurrentQuarter: true}, pl)

	require.NoError(t, tr.RunOnce(context.Background(), "manual"))
	pl.set([]model.State{model.Balancing, model.Balancing}, nil)
	require.NoError(t, tr.RunOnce(context.Background(), "manual"))

	states := st.Current().Schedule.States()
	assert.Equal(t, []model.State{model.ChargeGrid, model.Balancing}, states)
}

func TestTrigger_RequestCoalesces(t *testing.T) {
	pl := &fakePlanner{states: []model.State{model.Balancing}}
	tr, _, m := newTestTrigger(t, TriggerConfig{}, pl)

	assert.True(t, tr.Request("manual"))
	assert.False(t, tr.Request("manual"))
	assert.False(t, tr.Request("mqtt"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggerRequests.WithLabelValues("manual", "queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggerRequests.WithLabelValues("mqtt", "coalesced")))
}

func TestTrigger_Run(t *testing.T) {
	pl := &fakePlanner{states: []model.State{model.Balancing}, block: make(chan struct{})}
	tr, st, _ := newTestTrigger(t, TriggerConfig{}, pl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	// startup run is in progress and blocked
	require.Eventually(t, tr.Running, time.Second, 5*time.Millisecond)
	tr.Request("manual")
	assert.False(t, tr.Request("manual"))

	close(pl.block)
	require.Eventually(t, func() bool { return pl.calls.Load() == 2 && !tr.Running() }, time.Second, 5*time.Millisecond)
	require.NotNil(t, st.Current())
	assert.Equal(t, uint64(2), st.Current().Seq)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("trigger did not stop")
	}
}

func TestNewTrigger_InvalidDaily(t *testing.T) {
	_, err := NewTrigger(TriggerConfig{DailyAt: "25:00"}, &fakePlanner{}, NewStore(), nil, zerolog.Nop())
	assert.Error(t, err)
}
