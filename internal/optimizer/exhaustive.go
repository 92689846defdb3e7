package optimizer

import (
	"context"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"battery-scheduler/internal/model"
)

// exhaustiveChunks is fixed so the reduction order, and with it the result,
// does not depend on the number of CPUs.
const exhaustiveChunks = 16

// ctxCheckEvery is how many candidates a worker evaluates between deadline checks.
const ctxCheckEvery = 256

// exhaustive evaluates every state sequence. Chunks of the index space run
// in parallel and are reduced in index order.
type exhaustive struct {
	workers int
}

func (exhaustive) name() string { return "exhaustive" }

func (e exhaustive) run(ctx context.Context, pr problem) (candidate, bool) {
	total := 1
	for range pr.ranges {
		total *= len(pr.p.States)
	}
	chunks := min(exhaustiveChunks, total)

	bests := make([]candidate, chunks)
	found := make([]bool, chunks)
	var timedOut atomic.Bool

	g := new(errgroup.Group)
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}
	for c := range chunks {
		from, to := c*total/chunks, (c+1)*total/chunks
		g.Go(func() error {
			states := make([]model.State, len(pr.ranges))
			for idx := from; idx < to; idx++ {
				if (idx-from)%ctxCheckEvery == 0 && ctx.Err() != nil {
					timedOut.Store(true)
					return nil
				}
				decode(idx, pr.p.States, states)
				cand := pr.evaluate(states)
				if !found[c] || cand.better(bests[c]) {
					cand.states = slices.Clone(states)
					bests[c] = cand
					found[c] = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var best candidate
	ok := false
	for c := range chunks {
		if found[c] && (!ok || bests[c].better(best)) {
			best = bests[c]
			ok = true
		}
	}
	if !ok {
		return pr.defaults(), true
	}
	return best, timedOut.Load()
}
