package schedule

import (
	"time"

	"battery-scheduler/internal/model"
)

// Control serves the device control loop from the published schedule.
type Control struct {
	store *Store
}

func NewControl(store *Store) *Control {
	return &Control{store: store}
}

// Decide returns the period covering now, the planned flow of now's quarter
// and the state to apply. The planned state is adjusted to the live SoC [%]
// when known; without a schedule it is the default state.
func (c *Control) Decide(now time.Time, soc *int) model.Decision {
	return Decide(c.store.Current(), now, soc)
}

// Decide is Control.Decide against a given snapshot, which may be nil.
func Decide(snap *Snapshot, now time.Time, soc *int) model.Decision {
	d := model.Decision{Planned: model.DefaultState, State: model.DefaultState}
	if snap == nil {
		return d
	}
	d.RunID = snap.Schedule.RunID
	period, pos, ok := snap.Schedule.At(now)
	if !ok {
		return d
	}
	d.Covered, d.Period, d.Planned = true, period, period.State
	if period.Flows != nil {
		f := period.Flows[pos]
		d.Flow = &f
	}

	p := snap.Params
	minSoc, _ := model.SocPercent(p.EssMinSocEnergy, p.EssTotalEnergy)
	maxSoc, ok := model.SocPercent(p.EssMaxSocEnergy, p.EssTotalEnergy)
	if !ok {
		return d
	}
	d.State = RunState(period.State, soc, minSoc, maxSoc)
	return d
}

// RunState corrects a planned state against the measured SoC: a state that
// cannot act at the current SoC falls back to the closest one that does the
// same thing.
func RunState(state model.State, soc *int, minSoc, maxSoc int) model.State {
	if soc == nil {
		return state
	}
	switch state {
	case model.DelayDischarge, model.DischargeGrid:
		if *soc <= minSoc {
			return model.Balancing
		}
	case model.ChargeGrid:
		if *soc > maxSoc {
			return model.DelayDischarge
		}
	}
	return state
}
