package simulator

import (
	"fmt"

	"battery-scheduler/internal/model"
)

// Unit is one element of a state assignment: quarters [From, To) of the
// horizon run in State.
type Unit struct {
	From, To   int
	State      model.State
	OptimizeBy model.OptimizeBy
}

// Assignment is an ordered list of units tiling a horizon.
type Assignment []Unit

// HourlyAssignment builds one unit per clock hour with the given states.
// Missing states default to model.DefaultState.
func HourlyAssignment(quarters []model.QuarterPeriod, states []model.State) Assignment {
	ranges := model.HourRanges(quarters)
	out := make(Assignment, len(ranges))
	for i, r := range ranges {
		s := model.DefaultState
		if i < len(states) {
			s = states[i]
		}
		out[i] = Unit{From: r[0], To: r[1], State: s, OptimizeBy: model.OptimizeByHour}
	}
	return out
}

// Validate checks that a tiles [0, n) without gaps or overlaps.
func (a Assignment) Validate(n int) error {
	next := 0
	for i, u := range a {
		if u.From != next || u.To <= u.From {
			return fmt.Errorf("unit %d covers [%d,%d), expected start %d", i, u.From, u.To, next)
		}
		next = u.To
	}
	if next != n {
		return fmt.Errorf("assignment covers %d quarters, horizon has %d", next, n)
	}
	return nil
}

// Result of a simulation run.
type Result struct {
	Schedule   *model.Schedule
	Cost       float64
	EssFinal   int
	Infeasible int // number of infeasible slices
}

// Simulator folds a state assignment over a horizon.
type Simulator struct{}

func New() *Simulator { return &Simulator{} }

// Run simulates h under a, strictly in time order, and builds the Schedule.
// Missing quarters produce periods without flows; they cost nothing and
// leave the stored energy untouched.
func (s *Simulator) Run(h model.Horizon, a Assignment, p model.Params) (*Result, error) {
	if err := a.Validate(len(h.Quarters)); err != nil {
		return nil, err
	}

	periods := make([]model.Period, 0, len(a))
	ess := p.EssInitialEnergy
	cost := 0.0
	infeasible := 0

	for _, u := range a {
		quarters := h.Quarters[u.From:u.To]
		period := model.Period{
			Time:       quarters[0].Time,
			State:      u.State,
			OptimizeBy: u.OptimizeBy,
			Price:      model.RepresentativePrice(quarters),
			EssInitial: ess,
			Quarters:   quarters,
			Forecast:   !anyMissing(quarters),
		}
		if period.Forecast {
			period.Flows = make([]model.EnergyFlow, len(quarters))
			unitCost := 0.0
			for i, q := range quarters {
				flow, after := CalculateEnergyFlow(q, u.State, ess, p)
				period.Flows[i] = flow
				unitCost += SliceCost(q.Price, flow.Grid, p)
				if flow.Infeasible {
					infeasible++
				}
				ess = after
			}
			cost += unitCost
		}
		periods = append(periods, period)
	}

	schedule, err := model.NewSchedule(h.Start, periods)
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}
	schedule.TotalCost = cost
	if infeasible > 0 {
		schedule.Degraded = append(schedule.Degraded, fmt.Errorf("%d slices exceed the grid buy limit: %w", infeasible, model.ErrInfeasibleSlice))
	}

	return &Result{
		Schedule:   schedule,
		Cost:       cost,
		EssFinal:   ess,
		Infeasible: infeasible,
	}, nil
}

// Fold runs quarters under one state without building periods. It is the
// hot path of the optimizer and must stay identical to Run.
func Fold(quarters []model.QuarterPeriod, state model.State, essInitial int, p model.Params) (cost float64, essAfter int, infeasible int) {
	ess := essInitial
	if anyMissing(quarters) {
		return 0, ess, 0
	}
	for _, q := range quarters {
		flow, after := CalculateEnergyFlow(q, state, ess, p)
		cost += SliceCost(q.Price, flow.Grid, p)
		if flow.Infeasible {
			infeasible++
		}
		ess = after
	}
	return cost, ess, infeasible
}

// Cost evaluates an assignment without building a Schedule.
func Cost(h model.Horizon, a Assignment, p model.Params) (float64, int) {
	ess := p.EssInitialEnergy
	total := 0.0
	infeasible := 0
	for _, u := range a {
		c, after, inf := Fold(h.Quarters[u.From:u.To], u.State, ess, p)
		total += c
		infeasible += inf
		ess = after
	}
	return total, infeasible
}

func anyMissing(quarters []model.QuarterPeriod) bool {
	for _, q := range quarters {
		if q.Missing {
			return true
		}
	}
	return false
}
