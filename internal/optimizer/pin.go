package optimizer

import (
	"fmt"
	"slices"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// PinFirstQuarter re-simulates s with its first quarter forced to state, so
// a republish never changes the state of the quarter already running. The
// rest of the assignment is kept as is.
func PinFirstQuarter(s *model.Schedule, p model.Params, state model.State) (*model.Schedule, error) {
	if s.Empty() {
		return s, nil
	}
	first := s.Periods[0]
	if first.State == state {
		return s, nil
	}

	h := model.Horizon{Start: s.Start}
	var a simulator.Assignment
	for i, period := range s.Periods {
		from := len(h.Quarters)
		h.Quarters = append(h.Quarters, period.Quarters...)
		to := len(h.Quarters)
		if i == 0 {
			a = append(a, simulator.Unit{From: from, To: from + 1, State: state, OptimizeBy: model.OptimizeByQuarter})
			if to > from+1 {
				a = append(a, simulator.Unit{From: from + 1, To: to, State: period.State, OptimizeBy: period.OptimizeBy})
			}
			continue
		}
		a = append(a, simulator.Unit{From: from, To: to, State: period.State, OptimizeBy: period.OptimizeBy})
	}

	if !p.CapacityValid() {
		p = p.WithoutStorage()
	}
	res, err := simulator.New().Run(h, a, p)
	if err != nil {
		return nil, fmt.Errorf("pin first quarter: %w", err)
	}
	pinned := res.Schedule
	causes := pinned.Degraded
	pinned.RunID = s.RunID
	pinned.TimedOut = s.TimedOut
	pinned.Degraded = slices.Clone(s.Degraded)
	if len(causes) > 0 && !s.DegradedBy(model.ErrInfeasibleSlice) {
		pinned.Degraded = append(pinned.Degraded, causes...)
	}
	return pinned, nil
}
