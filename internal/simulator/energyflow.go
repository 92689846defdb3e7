package simulator

import "battery-scheduler/internal/model"

// Limits returns the storage energy that can be charged and discharged
// within q given the energy stored at its start. Both are >= 0.
func Limits(q model.QuarterPeriod, essInitial int, p model.Params) (maxCharge, maxDischarge int) {
	if !p.CapacityValid() {
		return 0, 0
	}
	stored := max(0, essInitial)
	maxCharge = min(q.EssMaxChargeEnergy, max(0, p.EssMaxSocEnergy-stored))
	maxDischarge = min(q.EssMaxDischargeEnergy, max(0, stored-p.EssMinSocEnergy))
	return max(0, maxCharge), max(0, maxDischarge)
}

// CalculateEnergyFlow is the pure energy balance of one slice under state s.
// It returns the flow and the stored energy after the slice.
//
// Storage is clamped by the state's rule, the per-slice power limit and the
// SoC window. Grid is the residual of the balance. When the import would
// exceed the slice's buy limit, storage charge is reduced first (discharging
// if needed, regardless of the state's rule); whatever still does not fit is
// flagged Infeasible.
func CalculateEnergyFlow(q model.QuarterPeriod, s model.State, essInitial int, p model.Params) (model.EnergyFlow, int) {
	maxCharge, maxDischarge := Limits(q, essInitial, p)
	rule := model.RuleOf(s)
	residual := q.Production - q.Consumption
	buyLimit := buyLimitOf(q, p)

	var ess int
	switch rule.Target {
	case model.TargetResidual:
		ess = residual
	case model.TargetMaxCharge:
		// charge with whatever the import limit leaves, force at least 1 Wh to make a difference
		ess = min(maxCharge, max(buyLimit-q.Consumption+q.Production, 1))
		// never store less than balancing would
		ess = max(ess, residual)
	case model.TargetMaxDischarge:
		ess = -maxDischarge
	}
	if !rule.AllowCharge {
		ess = min(ess, 0)
	}
	if !rule.AllowDischarge {
		ess = max(ess, 0)
	}
	ess = max(-maxDischarge, min(ess, maxCharge))

	grid := q.Consumption - q.Production + ess
	infeasible := false
	if grid > buyLimit {
		ess = max(-maxDischarge, ess-(grid-buyLimit))
		grid = q.Consumption - q.Production + ess
		infeasible = grid > buyLimit
	}

	return model.EnergyFlow{
		Grid:        grid,
		Production:  q.Production,
		Consumption: q.Consumption,
		Ess:         ess,
		EssInitial:  essInitial,
		Infeasible:  infeasible,
	}, essInitial + ess
}

// SliceCost is the monetary cost of one slice: imports at the slice price,
// exports credited with ExportCreditFactor of it. Price is per MWh, energy in Wh.
func SliceCost(price float64, grid int, p model.Params) float64 {
	if grid >= 0 {
		return price * float64(grid) / 1e6
	}
	return p.ExportCreditFactor * price * float64(grid) / 1e6
}

func buyLimitOf(q model.QuarterPeriod, p model.Params) int {
	if q.MaxBuyFromGrid > 0 {
		return q.MaxBuyFromGrid
	}
	return p.GridBuyLimit()
}
