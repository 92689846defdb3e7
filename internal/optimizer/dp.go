package optimizer

import (
	"context"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/simulator"
)

// DefaultBuckets controls the stored-energy discretization of the DP.
// Higher = more accurate, slower.
const DefaultBuckets = 200

// dynamic is a forward DP over stored-energy buckets, one stage per unit.
// Each bucket keeps the best path reaching it together with the exact
// energy that path ends on, so folding never sees a rounded value. Paths
// landing in the same bucket are merged, which makes the search
// approximate: a merge drops a path whose stored energy differs from the
// kept one by less than EssTotalEnergy/buckets Wh. Without grid limits the
// result stays within units * (EssTotalEnergy/buckets) * max|price| / 1e6
// of the exhaustive optimum, and is usually equal to it.
type dynamic struct {
	buckets int
}

type dpEntry struct {
	candidate
	energy int
}

func (dynamic) name() string { return "dp" }

func (d dynamic) run(ctx context.Context, pr problem) (candidate, bool) {
	buckets := d.buckets
	if buckets < 2 {
		buckets = DefaultBuckets
	}
	total := max(1, pr.p.EssTotalEnergy)
	toIdx := func(energy int) int {
		if energy <= 0 {
			return 0
		}
		if energy >= total {
			return buckets
		}
		return int(int64(energy) * int64(buckets) / int64(total))
	}

	cur := make([]*dpEntry, buckets+1)
	cur[toIdx(pr.p.EssInitialEnergy)] = &dpEntry{energy: pr.p.EssInitialEnergy}
	next := make([]*dpEntry, buckets+1)

	timedOut := false
	fallback := []model.State{model.DefaultState}

	for u, r := range pr.ranges {
		states := pr.p.States
		if timedOut || ctx.Err() != nil {
			// finish the remaining stages with the default state only
			timedOut = true
			states = fallback
		}
		quarters := pr.h.Quarters[r[0]:r[1]]

		for i := range next {
			next[i] = nil
		}
		for _, e := range cur {
			if e == nil {
				continue
			}
			for _, s := range states {
				cost, after, inf := simulator.Fold(quarters, s, e.energy, pr.p)

				path := make([]model.State, u+1)
				copy(path, e.states)
				path[u] = s

				cand := &dpEntry{
					candidate: candidate{
						states:     path,
						cost:       e.cost + cost,
						infeasible: e.infeasible + inf,
						nonDefault: e.nonDefault,
					},
					energy: after,
				}
				if s != model.DefaultState {
					cand.nonDefault++
				}

				ns := toIdx(after)
				if next[ns] == nil || cand.better(next[ns].candidate) {
					next[ns] = cand
				}
			}
		}
		cur, next = next, cur
	}

	var best *dpEntry
	for _, e := range cur {
		if e != nil && (best == nil || e.better(best.candidate)) {
			best = e
		}
	}
	if best == nil {
		return pr.defaults(), timedOut
	}
	return best.candidate, timedOut
}
