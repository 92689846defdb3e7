package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Params defines the horizon-wide constants of one optimizer run.
// Units:
// - energies: Wh (per slice where noted)
// - prices: currency/MWh
// - ExportCreditFactor: 0..1, share of the price credited per exported Wh
type Params struct {
	// Time is the quarter-aligned start of the horizon.
	Time time.Time

	EssTotalEnergy   int
	EssMinSocEnergy  int
	EssMaxSocEnergy  int
	EssInitialEnergy int

	// Per slice.
	EssMaxChargeEnergy    int
	EssMaxDischargeEnergy int

	// MaxBuyFromGrid is the importable grid energy per slice. Zero means no limit.
	MaxBuyFromGrid int

	ExportCreditFactor float64

	Resolution      time.Duration
	HorizonQuarters int

	States []State
}

// Resolution of every slice.
const (
	QuarterDuration = 15 * time.Minute
	QuartersPerHour = 4
)

// Validate checks the invariants the simulator relies on. A non-positive
// capacity is not an error here; the optimizer degrades instead.
func (p Params) Validate() error {
	if p.Time.IsZero() {
		return errors.New("Time must be set")
	}
	if p.Resolution != 0 && p.Resolution != QuarterDuration {
		return fmt.Errorf("Resolution must be %s", QuarterDuration)
	}
	if p.HorizonQuarters < 0 {
		return errors.New("HorizonQuarters must be >= 0")
	}
	if p.EssMaxChargeEnergy < 0 || p.EssMaxDischargeEnergy < 0 {
		return errors.New("EssMaxChargeEnergy/EssMaxDischargeEnergy must be >= 0")
	}
	if p.MaxBuyFromGrid < 0 {
		return errors.New("MaxBuyFromGrid must be >= 0")
	}
	if p.ExportCreditFactor < 0 || p.ExportCreditFactor > 1 {
		return errors.New("ExportCreditFactor must be in [0, 1]")
	}
	if p.EssTotalEnergy > 0 {
		if p.EssMinSocEnergy < 0 || p.EssMaxSocEnergy > p.EssTotalEnergy || p.EssMinSocEnergy > p.EssMaxSocEnergy {
			return errors.New("EssMinSocEnergy/EssMaxSocEnergy must satisfy 0<=min<=max<=total")
		}
	}
	if len(p.States) == 0 {
		return errors.New("at least one state is required")
	}
	if p.States[0] != DefaultState {
		return fmt.Errorf("first state must be %s", DefaultState)
	}
	for _, s := range p.States {
		if !s.Valid() {
			return fmt.Errorf("invalid state %d", int(s))
		}
	}
	return nil
}

// CapacityValid reports whether there is any storage to schedule.
func (p Params) CapacityValid() bool {
	return p.EssTotalEnergy > 0
}

// GridBuyLimit returns the import limit per slice, with zero mapped to no limit.
func (p Params) GridBuyLimit() int {
	if p.MaxBuyFromGrid <= 0 {
		return math.MaxInt32
	}
	return p.MaxBuyFromGrid
}

// WithoutStorage returns a copy that describes a site without usable storage.
func (p Params) WithoutStorage() Params {
	out := p
	out.EssTotalEnergy = 0
	out.EssMinSocEnergy = 0
	out.EssMaxSocEnergy = 0
	out.EssInitialEnergy = 0
	out.EssMaxChargeEnergy = 0
	out.EssMaxDischargeEnergy = 0
	return out
}

// ClampInitial keeps the initial energy inside [0, total].
func (p Params) ClampInitial() Params {
	out := p
	out.EssInitialEnergy = max(0, min(p.EssInitialEnergy, max(0, p.EssTotalEnergy)))
	return out
}

// SocEnergy converts a SoC percentage into Wh of the given capacity.
func SocEnergy(totalEnergy int, socPercent float64) int {
	return int(math.Round(float64(totalEnergy) * socPercent / 100))
}

// SocPercent converts stored energy into a SoC percentage clamped to [0,100].
// ok is false when capacity is not positive.
func SocPercent(energy, totalEnergy int) (soc int, ok bool) {
	if totalEnergy <= 0 {
		return 0, false
	}
	v := int(math.Round(float64(energy) * 100 / float64(totalEnergy)))
	return max(0, min(100, v)), true
}

// ToEnergy converts power [W] to energy [Wh/15 min].
func ToEnergy(power int) int {
	return power / QuartersPerHour
}

// ToPower converts energy [Wh/15 min] to power [W].
func ToPower(energy int) int {
	return energy * QuartersPerHour
}

// RoundDownToQuarter truncates t to the start of its 15-minute slice.
func RoundDownToQuarter(t time.Time) time.Time {
	return t.Truncate(QuarterDuration)
}

// LogString renders the params on one line; the dump parser reads it back.
func (p Params) LogString() string {
	states := make([]string, len(p.States))
	for i, s := range p.States {
		states[i] = s.String()
	}
	return fmt.Sprintf("Params time=%s essTotalEnergy=%d essMinSocEnergy=%d essMaxSocEnergy=%d essInitialEnergy=%d essMaxChargeEnergy=%d essMaxDischargeEnergy=%d maxBuyFromGrid=%d exportCreditFactor=%g horizonQuarters=%d states=%s",
		p.Time.UTC().Format(time.RFC3339),
		p.EssTotalEnergy,
		p.EssMinSocEnergy,
		p.EssMaxSocEnergy,
		p.EssInitialEnergy,
		p.EssMaxChargeEnergy,
		p.EssMaxDischargeEnergy,
		p.MaxBuyFromGrid,
		p.ExportCreditFactor,
		p.HorizonQuarters,
		strings.Join(states, ","),
	)
}
