package model

import "time"

// OptimizeBy tells at which granularity the optimizer chose a period's state.
type OptimizeBy string

const (
	OptimizeByHour    OptimizeBy = "HOUR"
	OptimizeByQuarter OptimizeBy = "QUARTER"
)

// QuarterPeriod is one 15-minute slice of forecast input.
type QuarterPeriod struct {
	Time time.Time

	Production  int // Wh
	Consumption int // Wh
	Price       float64

	// Max storage energy per slice, derived from the device power limits.
	EssMaxChargeEnergy    int
	EssMaxDischargeEnergy int

	// MaxBuyFromGrid is the importable grid energy for this slice; zero means no limit.
	MaxBuyFromGrid int

	// Missing marks a slice without forecast or price coverage.
	Missing bool
}

func (q QuarterPeriod) End() time.Time {
	return q.Time.Add(QuarterDuration)
}

// EnergyFlow is the simulated energy balance of one slice.
// Grid: positive = buy. Ess: positive = charge.
type EnergyFlow struct {
	Grid        int
	Production  int
	Consumption int
	Ess         int

	// EssInitial is the stored energy at the start of the slice.
	EssInitial int

	// Infeasible is set when the grid import limit could not be met.
	Infeasible bool
}

// Balance returns grid + production - consumption - ess; zero for every valid flow.
func (f EnergyFlow) Balance() int {
	return f.Grid + f.Production - f.Consumption - f.Ess
}

func (f EnergyFlow) Add(o EnergyFlow) EnergyFlow {
	return EnergyFlow{
		Grid:        f.Grid + o.Grid,
		Production:  f.Production + o.Production,
		Consumption: f.Consumption + o.Consumption,
		Ess:         f.Ess + o.Ess,
		EssInitial:  f.EssInitial,
		Infeasible:  f.Infeasible || o.Infeasible,
	}
}

// Period is a run of consecutive quarters sharing one State.
type Period struct {
	Time       time.Time
	State      State
	OptimizeBy OptimizeBy

	// Price is representative for the whole period.
	Price float64

	// EssInitial is the stored energy at the start of the period.
	EssInitial int

	Quarters []QuarterPeriod

	// Flows has one entry per quarter; nil for periods without forecast.
	Flows []EnergyFlow

	// Forecast is false for periods filled in because input data was missing.
	Forecast bool
}

func (p Period) End() time.Time {
	return p.Time.Add(time.Duration(len(p.Quarters)) * QuarterDuration)
}

// Total sums the quarter flows of the period.
func (p Period) Total() (EnergyFlow, bool) {
	if p.Flows == nil {
		return EnergyFlow{}, false
	}
	var total EnergyFlow
	for i, f := range p.Flows {
		if i == 0 {
			total = f
			continue
		}
		total = total.Add(f)
	}
	return total, true
}

// MaxEnergy returns the period's storage limits summed over its quarters.
func (p Period) MaxEnergy() (charge, discharge, buy int) {
	for _, q := range p.Quarters {
		charge += q.EssMaxChargeEnergy
		discharge += q.EssMaxDischargeEnergy
		buy += q.MaxBuyFromGrid
	}
	return charge, discharge, buy
}

// RepresentativePrice is the consumption-weighted mean of the quarter
// prices, or the plain mean when nothing is consumed.
func RepresentativePrice(quarters []QuarterPeriod) float64 {
	if len(quarters) == 0 {
		return 0
	}
	var weighted, weight, sum float64
	for _, q := range quarters {
		sum += q.Price
		if q.Consumption > 0 {
			weighted += q.Price * float64(q.Consumption)
			weight += float64(q.Consumption)
		}
	}
	if weight > 0 {
		return weighted / weight
	}
	return sum / float64(len(quarters))
}

// Horizon is the ordered list of quarters an optimizer run covers.
type Horizon struct {
	Start    time.Time
	Quarters []QuarterPeriod
}

func (h Horizon) End() time.Time {
	return h.Start.Add(time.Duration(len(h.Quarters)) * QuarterDuration)
}

// Covered returns how many leading quarters carry forecast data.
func (h Horizon) Covered() int {
	for i, q := range h.Quarters {
		if q.Missing {
			return i
		}
	}
	return len(h.Quarters)
}

// HourRanges groups quarter indexes [from, to) by clock hour. A horizon that
// starts mid-hour gets a shorter first group.
func HourRanges(quarters []QuarterPeriod) [][2]int {
	var out [][2]int
	start := 0
	for i := 1; i <= len(quarters); i++ {
		if i == len(quarters) || quarters[i].Time.Minute() == 0 {
			out = append(out, [2]int{start, i})
			start = i
		}
	}
	return out
}
