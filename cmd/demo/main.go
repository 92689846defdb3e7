package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/optimizer"
	"battery-scheduler/internal/query"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/simulator"
)

// Demo:
// - Build a synthetic day: solar bell curve, evening load peak, cheap night prices
// - Optimize it for a 10 kWh home storage
// - Publish the result and read it back the way the API serves it
func main() {
	capacity := flag.Int("capacity", 10000, "Storage capacity [Wh]")
	soc := flag.Float64("soc", 30, "Initial SoC [%]")
	mode := flag.String("mode", string(model.ControlModeChargeDischarge), "Control mode")
	export := flag.Float64("export-credit", 0, "Share of the price credited for exported energy")
	quarters := flag.Int("quarters", 96, "Horizon length in quarters")
	outCSV := flag.String("out", "", "Optional path to write ledger CSV (e.g. results/demo.csv)")
	verbose := flag.Bool("v", false, "Log the optimizer schedule table")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level).With().Timestamp().Logger()

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fc, prices := syntheticDay(start, *quarters)

	site := optimizer.Site{
		MinSocPercent:       10,
		MaxSocPercent:       optimizer.DefaultMaxSocPercent,
		MaxBuyFromGridPower: 11000,
		ExportCreditFactor:  *export,
		HorizonQuarters:     *quarters,
		ControlMode:         model.ControlMode(*mode),
	}
	reading := model.EssReading{Capacity: *capacity, Soc: *soc, MaxChargePower: 5000, MaxDischargePower: 5000}
	p, err := optimizer.BuildParams(start, reading, site)
	if err != nil {
		log.Fatal().Err(err).Msg("build params")
	}
	h := optimizer.BuildHorizon(fc, prices, p)

	began := time.Now()
	s, err := optimizer.New(optimizer.Config{}, logger).Optimize(context.Background(), h, p)
	if err != nil {
		log.Fatal().Err(err).Msg("optimize")
	}
	fmt.Printf("Optimized %d quarters into %d periods in %s\n", len(h.Quarters), len(s.Periods), time.Since(began).Round(time.Millisecond))
	fmt.Printf("Params: %s\n\n", p.LogString())

	for _, period := range s.Periods {
		total, _ := period.Total()
		fmt.Printf("%s-%s  %-16s %-7s price=%7.2f  grid=%6d Wh  ess=%6d Wh  soc=%3d%%\n",
			period.Time.Format("15:04"),
			period.End().Format("15:04"),
			period.State,
			period.OptimizeBy,
			period.Price,
			total.Grid,
			total.Ess,
			socOf(period.EssInitial, p),
		)
	}

	// what the default state alone would have cost
	baseline, _ := simulator.Cost(h, simulator.HourlyAssignment(h.Quarters, nil), p)
	fmt.Printf("\nTotal cost=%.4f  baseline (always %s)=%.4f\n", s.TotalCost, model.DefaultState, baseline)

	store := schedule.NewStore()
	store.Publish(&schedule.Snapshot{Schedule: s, Params: p, Seq: 1, ComputedAt: time.Now()})
	view := query.NewService(query.Config{Lookback: time.Hour, HorizonQuarters: 8}, store, nil, nil, logger).
		GetScheduleView(context.Background(), start.Add(2*time.Hour))
	fmt.Printf("\ngetSchedule at 02:00 (%d entries, first 4 are history):\n", len(view.Schedule))
	for _, e := range view.Schedule {
		fmt.Printf("  %s state=%s soc=%s grid=%s\n", e.Timestamp.Format("15:04"), fmtInt(e.State), fmtInt(e.Soc), fmtInt(e.Grid))
	}

	if *outCSV != "" {
		if err := simulator.WriteLedgerCSV(*outCSV, simulator.Ledger(s, p)); err != nil {
			log.Fatal().Err(err).Msg("write csv")
		}
		fmt.Printf("\nWrote CSV: %s\n", *outCSV)
	}
}

// syntheticDay returns power forecasts [W] and hourly prices [currency/MWh].
func syntheticDay(start time.Time, quarters int) (model.ForecastSnapshot, []model.PriceInterval) {
	fc := model.ForecastSnapshot{Start: start}
	for i := 0; i < quarters; i++ {
		hour := float64(i%96) / 4

		production := 0
		if hour > 6 && hour < 20 {
			production = int(6000 * math.Sin(math.Pi*(hour-6)/14))
		}
		consumption := 400
		switch {
		case hour >= 7 && hour < 9:
			consumption = 1500
		case hour >= 17 && hour < 22:
			consumption = 2500
		}
		fc.Production = append(fc.Production, lo.ToPtr(production))
		fc.Consumption = append(fc.Consumption, lo.ToPtr(consumption))
	}

	var prices []model.PriceInterval
	for h := 0; h*4 < quarters; h++ {
		hour := h % 24
		price := 120.0
		switch {
		case hour < 5:
			price = 60
		case hour >= 11 && hour < 15:
			price = 40
		case hour >= 17 && hour < 21:
			price = 280
		}
		t := start.Add(time.Duration(h) * time.Hour)
		prices = append(prices, model.PriceInterval{IntervalStartUTC: t, IntervalEndUTC: t.Add(time.Hour), Price: lo.ToPtr(price)})
	}
	return fc, prices
}

func socOf(energy int, p model.Params) int {
	soc, _ := model.SocPercent(energy, p.EssTotalEnergy)
	return soc
}

func fmtInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
