package optimizer

import (
	"context"
	"slices"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// needsRefinement reports whether an hour unit should be re-optimized per
// quarter: it has infeasible slices, or its quarter prices differ.
func needsRefinement(quarters []model.QuarterPeriod, state model.State, essInitial int, p model.Params) bool {
	if len(quarters) < 2 {
		return false
	}
	if _, _, inf := simulator.Fold(quarters, state, essInitial, p); inf > 0 {
		return true
	}
	return !samePrice(quarters)
}

// refine re-optimizes hour units at quarter resolution, one at a time and
// in time order, with the rest of a fixed. A unit is replaced when the
// quarter assignment removes infeasible slices or strictly lowers the cost.
// It returns the refined assignment and whether ctx expired on the way.
func refine(ctx context.Context, h model.Horizon, a simulator.Assignment, p model.Params) (simulator.Assignment, bool) {
	out := slices.Clone(a)
	ess := p.EssInitialEnergy

	for i := 0; i < len(out); i++ {
		u := out[i]
		quarters := h.Quarters[u.From:u.To]
		if u.OptimizeBy != model.OptimizeByHour || !needsRefinement(quarters, u.State, ess, p) {
			_, ess, _ = simulator.Fold(quarters, u.State, ess, p)
			continue
		}
		if ctx.Err() != nil {
			return out, true
		}

		baseCost, baseInf := simulator.Cost(h, out, p)
		base := candidate{cost: baseCost, infeasible: baseInf}

		n := u.To - u.From
		total := 1
		for range n {
			total *= len(p.States)
		}
		states := make([]model.State, n)
		var best candidate
		found := false
		for idx := range total {
			decode(idx, p.States, states)
			trial := splice(out, i, quarterUnits(u, states))
			cost, inf := simulator.Cost(h, trial, p)
			cand := candidate{states: states, cost: cost, infeasible: inf}
			for _, s := range states {
				if s != model.DefaultState {
					cand.nonDefault++
				}
			}
			if !found || cand.better(best) {
				cand.states = slices.Clone(states)
				best = cand
				found = true
			}
		}

		if found && (best.infeasible < base.infeasible || (best.infeasible == base.infeasible && best.cost < base.cost-costEpsilon)) {
			units := quarterUnits(u, best.states)
			out = splice(out, i, units)
			for _, q := range units {
				_, ess, _ = simulator.Fold(h.Quarters[q.From:q.To], q.State, ess, p)
			}
			i += len(units) - 1
			continue
		}
		_, ess, _ = simulator.Fold(quarters, u.State, ess, p)
	}
	return out, false
}

// quarterUnits splits u into QUARTER units, merging neighbours that share a state.
func quarterUnits(u simulator.Unit, states []model.State) []simulator.Unit {
	var out []simulator.Unit
	for k, s := range states {
		q := u.From + k
		if len(out) > 0 && out[len(out)-1].State == s {
			out[len(out)-1].To = q + 1
			continue
		}
		out = append(out, simulator.Unit{From: q, To: q + 1, State: s, OptimizeBy: model.OptimizeByQuarter})
	}
	return out
}

// splice returns a copy of a with element i replaced by units.
func splice(a simulator.Assignment, i int, units []simulator.Unit) simulator.Assignment {
	out := make(simulator.Assignment, 0, len(a)+len(units)-1)
	out = append(out, a[:i]...)
	out = append(out, units...)
	return append(out, a[i+1:]...)
}
