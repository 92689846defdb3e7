package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"battery-scheduler/internal/model"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func horizon(prices ...float64) model.Horizon {
	h := model.Horizon{Start: t0}
	for i, p := range prices {
		h.Quarters = append(h.Quarters, model.QuarterPeriod{
			Time:  t0.Add(time.Duration(i) * model.QuarterDuration),
			Price: p,
		})
	}
	return h
}

func TestSummarize(t *testing.T) {
	h := horizon(10, 20, 30, 40, 50)
	h.Quarters = append(h.Quarters, model.QuarterPeriod{Time: t0.Add(5 * model.QuarterDuration), Price: 1000, Missing: true})
	p := model.Params{EssTotalEnergy: 10000, EssMinSocEnergy: 1000, EssMaxSocEnergy: 9000}

	s := Summarize(h, p)
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 50.0, s.Max)
	assert.Equal(t, 30.0, s.Mean)
	assert.InDelta(t, math.Sqrt(250), s.StdDev, 1e-9)
	assert.InDelta(t, 12.0, s.P05, 1e-9)
	assert.InDelta(t, 48.0, s.P95, 1e-9)
	assert.InDelta(t, 36.0*8000/1e6, s.CycleValue, 1e-12)
	assert.False(t, s.Flat())
	assert.Equal(t, t0.Add(6*model.QuarterDuration), s.End)
}

func TestSummarize_Edges(t *testing.T) {
	s := Summarize(model.Horizon{Start: t0}, model.Params{})
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Min)
	assert.False(t, s.Flat())

	s = Summarize(horizon(7, 7, 7), model.Params{})
	assert.True(t, s.Flat())
	assert.Zero(t, s.CycleValue)
	assert.Zero(t, s.StdDev)

	s = Summarize(horizon(42), model.Params{})
	assert.Equal(t, 42.0, s.Mean)
	assert.Zero(t, s.StdDev)
}

func TestPercentileSorted(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.0, percentileSorted(vals, 0))
	assert.Equal(t, 4.0, percentileSorted(vals, 1))
	assert.InDelta(t, 2.5, percentileSorted(vals, 0.5), 1e-9)
	assert.Zero(t, percentileSorted(nil, 0.5))
}
