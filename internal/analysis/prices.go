package analysis

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"battery-scheduler/internal/model"
)

// PriceStats summarizes the prices of a horizon.
type PriceStats struct {
	Start time.Time
	End   time.Time
	Count int

	Min  float64
	Max  float64
	Mean float64
	// StdDev is the sample standard deviation.
	StdDev float64
	P05    float64
	P95  float64

	SpreadP95P05 float64

	// CycleValue is what one full cycle of the usable storage energy is
	// worth when bought at P05 and used at P95, in currency.
	CycleValue float64
}

// Summarize computes stats over the covered quarters of h. Missing quarters
// are skipped.
func Summarize(h model.Horizon, p model.Params) PriceStats {
	s := PriceStats{Start: h.Start, End: h.End()}
	vals := make([]float64, 0, len(h.Quarters))
	for _, q := range h.Quarters {
		if !q.Missing {
			vals = append(vals, q.Price)
		}
	}
	if len(vals) == 0 {
		return s
	}
	sort.Float64s(vals)
	s.Count = len(vals)
	s.Min = vals[0]
	s.Max = vals[len(vals)-1]
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	s.P05 = percentileSorted(vals, 0.05)
	s.P95 = percentileSorted(vals, 0.95)
	s.SpreadP95P05 = s.P95 - s.P05

	if p.CapacityValid() {
		usable := p.EssMaxSocEnergy - p.EssMinSocEnergy
		s.CycleValue = s.SpreadP95P05 * float64(usable) / 1e6
	}
	return s
}

// Flat reports whether every price equals the first one; the optimizer has
// nothing to choose between then.
func (s PriceStats) Flat() bool {
	return s.Count > 0 && s.Min == s.Max
}

func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	// Linear interpolation between order stats.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
