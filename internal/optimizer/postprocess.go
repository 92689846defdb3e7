package optimizer

import (
	"slices"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// relabelNoops assigns the default state to every unit whose flows would be
// identical under it, e.g. ChargeGrid on a full battery. Cost and stored
// energy do not change.
func relabelNoops(h model.Horizon, a simulator.Assignment, p model.Params) simulator.Assignment {
	out := slices.Clone(a)
	ess := p.EssInitialEnergy
	for i, u := range out {
		quarters := h.Quarters[u.From:u.To]
		if u.State != model.DefaultState && sameFlows(quarters, u.State, model.DefaultState, ess, p) {
			out[i].State = model.DefaultState
		}
		_, ess, _ = simulator.Fold(quarters, out[i].State, ess, p)
	}
	return out
}

func sameFlows(quarters []model.QuarterPeriod, a, b model.State, essInitial int, p model.Params) bool {
	ess := essInitial
	for _, q := range quarters {
		if q.Missing {
			return false
		}
		fa, after := simulator.CalculateEnergyFlow(q, a, ess, p)
		fb, _ := simulator.CalculateEnergyFlow(q, b, ess, p)
		if fa != fb {
			return false
		}
		ess = after
	}
	return true
}
