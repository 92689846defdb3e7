package optimizer

import (
	"context"
	"math"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// Costs closer than this are equal and fall through to the tie-breaks.
const costEpsilon = 1e-9

// problem is one coarse search: a horizon without missing quarters split
// into units, one state per unit.
type problem struct {
	h      model.Horizon
	ranges [][2]int
	p      model.Params
}

// candidate is a scored state sequence.
type candidate struct {
	states     []model.State
	cost       float64
	infeasible int
	nonDefault int
}

// better orders candidates by infeasible slices, cost, number of non-default
// states and finally the state sequence in display order.
func (c candidate) better(o candidate) bool {
	if c.infeasible != o.infeasible {
		return c.infeasible < o.infeasible
	}
	if math.Abs(c.cost-o.cost) > costEpsilon {
		return c.cost < o.cost
	}
	if c.nonDefault != o.nonDefault {
		return c.nonDefault < o.nonDefault
	}
	for i := range min(len(c.states), len(o.states)) {
		a, b := c.states[i].DisplayOrder(), o.states[i].DisplayOrder()
		if a != b {
			return a < b
		}
	}
	return len(c.states) < len(o.states)
}

// evaluate folds states over the problem units in order. The result refers
// to states; callers clone it before keeping it.
func (pr problem) evaluate(states []model.State) candidate {
	c := candidate{states: states}
	ess := pr.p.EssInitialEnergy
	for i, r := range pr.ranges {
		cost, after, inf := simulator.Fold(pr.h.Quarters[r[0]:r[1]], states[i], ess, pr.p)
		c.cost += cost
		c.infeasible += inf
		ess = after
		if states[i] != model.DefaultState {
			c.nonDefault++
		}
	}
	return c
}

func (pr problem) defaults() candidate {
	states := make([]model.State, len(pr.ranges))
	for i := range states {
		states[i] = model.DefaultState
	}
	return pr.evaluate(states)
}

func (pr problem) assignment(states []model.State) simulator.Assignment {
	a := make(simulator.Assignment, len(pr.ranges))
	for i, r := range pr.ranges {
		a[i] = simulator.Unit{From: r[0], To: r[1], State: states[i], OptimizeBy: model.OptimizeByHour}
	}
	return a
}

// search finds the best state per unit. timedOut is set when ctx expired
// before the search space was covered; the result is then the best found.
type search interface {
	name() string
	run(ctx context.Context, pr problem) (best candidate, timedOut bool)
}

// decode writes the idx-th sequence of the base-len(states) enumeration into
// out; the first unit is the most significant digit.
func decode(idx int, states []model.State, out []model.State) {
	k := len(states)
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = states[idx%k]
		idx /= k
	}
}
