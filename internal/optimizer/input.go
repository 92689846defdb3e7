package optimizer

import (
	"fmt"
	"math"
	"time"

	"battery-scheduler/internal/model"
)

// Site holds the installation constants that turn live readings into Params.
type Site struct {
	MinSocPercent float64
	MaxSocPercent float64

	// PowerFloor is the minimum charge/discharge power [W] assumed for the
	// device, for drivers that under-report their limits. Zero disables it.
	PowerFloor int

	// MaxBuyFromGridPower is the grid import limit [W]; zero means no limit.
	MaxBuyFromGridPower int

	ExportCreditFactor float64
	HorizonQuarters    int
	ControlMode        model.ControlMode
}

// DefaultMaxSocPercent is used when the site does not configure a maximum SoC.
const DefaultMaxSocPercent = 90

// BuildParams derives the run constants from a device reading.
func BuildParams(now time.Time, ess model.EssReading, site Site) (model.Params, error) {
	states, err := site.ControlMode.States()
	if err != nil {
		return model.Params{}, err
	}
	maxSoc := site.MaxSocPercent
	if maxSoc <= 0 {
		maxSoc = DefaultMaxSocPercent
	}
	if site.MinSocPercent < 0 || site.MinSocPercent > maxSoc || maxSoc > 100 {
		return model.Params{}, fmt.Errorf("invalid soc window [%g, %g]", site.MinSocPercent, maxSoc)
	}

	chargePower := max(site.PowerFloor, ess.MaxChargePower)
	dischargePower := max(site.PowerFloor, ess.MaxDischargePower)

	p := model.Params{
		Time:                  model.RoundDownToQuarter(now),
		EssTotalEnergy:        ess.Capacity,
		EssMinSocEnergy:       model.SocEnergy(ess.Capacity, site.MinSocPercent),
		EssMaxSocEnergy:       model.SocEnergy(ess.Capacity, maxSoc),
		EssInitialEnergy:      model.SocEnergy(ess.Capacity, ess.Soc),
		EssMaxChargeEnergy:    model.ToEnergy(chargePower),
		EssMaxDischargeEnergy: model.ToEnergy(dischargePower),
		MaxBuyFromGrid:        model.ToEnergy(site.MaxBuyFromGridPower),
		ExportCreditFactor:    site.ExportCreditFactor,
		Resolution:            model.QuarterDuration,
		HorizonQuarters:       site.HorizonQuarters,
		States:                states,
	}
	if ess.Capacity <= 0 {
		p = p.WithoutStorage()
	}
	return p.ClampInitial(), nil
}

// BuildHorizon lays forecast and price data onto p.HorizonQuarters slices
// starting at p.Time. Quarters without consumption or price data are marked
// Missing; gaps are only bridged between two known values. Production past
// the end of its forecast counts as zero.
func BuildHorizon(fc model.ForecastSnapshot, prices []model.PriceInterval, p model.Params) model.Horizon {
	start := model.RoundDownToQuarter(p.Time)
	n := p.HorizonQuarters

	offset := 0
	if !fc.Start.IsZero() {
		offset = int(start.Sub(model.RoundDownToQuarter(fc.Start)) / model.QuarterDuration)
	}
	consumption := Interpolate(JoinConsumption(model.QuartersPerHour,
		align(fc.Consumption, offset, n),
		align(fc.UnmanagedConsumption, offset, n)))
	production := Interpolate(align(fc.Production, offset, n))
	productionFrom := firstKnown(production)
	quarterPrices := Interpolate(QuarterPrices(start, n, prices))

	h := model.Horizon{Start: start, Quarters: make([]model.QuarterPeriod, n)}
	for i := range h.Quarters {
		q := model.QuarterPeriod{
			Time:                  start.Add(time.Duration(i) * model.QuarterDuration),
			EssMaxChargeEnergy:    p.EssMaxChargeEnergy,
			EssMaxDischargeEnergy: p.EssMaxDischargeEnergy,
			MaxBuyFromGrid:        p.MaxBuyFromGrid,
		}
		c, price := at(consumption, i), at(quarterPrices, i)
		if c == nil || price == nil || i < productionFrom {
			q.Missing = true
		} else {
			q.Consumption = model.ToEnergy(max(0, *c))
			q.Production = model.ToEnergy(max(0, ZeroFill(at(production, i))))
			q.Price = *price
		}
		h.Quarters[i] = q
	}
	return h
}

// Interpolate fills nulls that lie between two known values with the
// previous value. Leading and trailing nulls stay null.
func Interpolate[T int | float64](values []*T) []*T {
	out := make([]*T, len(values))
	last := -1
	for i, v := range values {
		if v != nil {
			last = i
		}
	}
	var prev *T
	for i := 0; i <= last; i++ {
		if values[i] != nil {
			prev = values[i]
		}
		out[i] = prev
	}
	return out
}

// ZeroFill returns *v, or zero for nil.
func ZeroFill(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// firstKnown returns the index of the first non-nil value, or 0 when there
// is none.
func firstKnown[T any](values []*T) int {
	for i, v := range values {
		if v != nil {
			return i
		}
	}
	return 0
}

func at[T any](values []*T, i int) *T {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}

// JoinConsumption uses total consumption for the first splitAfter slices and
// unmanaged consumption after that. Without an unmanaged forecast the total
// is used throughout.
func JoinConsumption(splitAfter int, total, unmanaged []*int) []*int {
	if len(unmanaged) == 0 {
		return total
	}
	out := make([]*int, 0, max(len(total), len(unmanaged)))
	for i := 0; i < min(splitAfter, len(total)); i++ {
		out = append(out, total[i])
	}
	for i := len(out); i < len(unmanaged); i++ {
		out = append(out, unmanaged[i])
	}
	return out
}

// QuarterPrices expands price rows of any length onto n quarters from start.
// Quarters no row covers are nil.
func QuarterPrices(start time.Time, n int, rows []model.PriceInterval) []*float64 {
	out := make([]*float64, n)
	end := start.Add(time.Duration(n) * model.QuarterDuration)
	for _, r := range rows {
		if r.Price == nil || !r.IntervalEndUTC.After(r.IntervalStartUTC) {
			continue
		}
		price := *r.Price
		for t := model.RoundDownToQuarter(r.IntervalStartUTC); t.Before(r.IntervalEndUTC) && t.Before(end); t = t.Add(model.QuarterDuration) {
			if t.Before(start) {
				continue
			}
			out[int(t.Sub(start)/model.QuarterDuration)] = &price
		}
	}
	return out
}

// align shifts a forecast array so index 0 is the horizon start.
func align(values []*int, offset, n int) []*int {
	if len(values) == 0 {
		return nil
	}
	out := make([]*int, 0, n)
	for i := 0; i < n; i++ {
		j := i + offset
		if j < 0 || j >= len(values) {
			out = append(out, nil)
			continue
		}
		out = append(out, values[j])
	}
	return out
}

// samePrice reports whether all quarter prices are equal.
func samePrice(quarters []model.QuarterPeriod) bool {
	if len(quarters) == 0 {
		return true
	}
	for _, q := range quarters[1:] {
		if math.Abs(q.Price-quarters[0].Price) > costEpsilon {
			return false
		}
	}
	return true
}
