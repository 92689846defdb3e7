package simulator

import (
	"time"

	"battery-scheduler/internal/model"
)

// LedgerRow is one row of per-quarter output.
// This is the primary artifact for "what the plan does" in a schedule.
type LedgerRow struct {
	Index int

	IntervalStart time.Time
	IntervalEnd   time.Time

	Price float64

	State      model.State
	OptimizeBy model.OptimizeBy
	Forecast   bool

	Production  int
	Consumption int
	Ess         int
	Grid        int

	EssInitial int
	Infeasible bool

	Cost    float64
	CumCost float64
}

// Ledger flattens a schedule to one row per quarter.
func Ledger(s *model.Schedule, p model.Params) []LedgerRow {
	if s.Empty() {
		return nil
	}
	rows := make([]LedgerRow, 0, s.Quarters())
	cum := 0.0
	idx := 0
	for _, period := range s.Periods {
		for i, q := range period.Quarters {
			row := LedgerRow{
				Index:         idx,
				IntervalStart: q.Time,
				IntervalEnd:   q.End(),
				Price:         q.Price,
				State:         period.State,
				OptimizeBy:    period.OptimizeBy,
				Forecast:      period.Forecast,
			}
			if period.Flows != nil {
				f := period.Flows[i]
				row.Production = f.Production
				row.Consumption = f.Consumption
				row.Ess = f.Ess
				row.Grid = f.Grid
				row.EssInitial = f.EssInitial
				row.Infeasible = f.Infeasible
				row.Cost = SliceCost(q.Price, f.Grid, p)
				cum += row.Cost
			}
			row.CumCost = cum
			rows = append(rows, row)
			idx++
		}
	}
	return rows
}
