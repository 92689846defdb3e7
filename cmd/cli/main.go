package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"battery-scheduler/internal/analysis"
	"battery-scheduler/internal/config"
	"battery-scheduler/internal/data"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/optimizer"
	"battery-scheduler/internal/simulator"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "optimize":
		cmdOptimize(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "prices":
		cmdPrices(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli optimize --config config.yaml --forecast forecast.json --prices prices.json [--soc 50] [--out results/schedule.csv]")
	fmt.Println("  cli replay --log scheduler.log [--out results/replay.csv]")
	fmt.Println("  cli prices --config config.yaml --forecast forecast.json --prices prices.json")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - optimize prints the schedule table and writes one CSV row per quarter")
	fmt.Println("  - replay re-simulates a schedule table captured from the service log")
}

type inputFlags struct {
	cfgPath      *string
	forecastPath *string
	pricePath    *string
	soc          *float64
}

func addInputFlags(fs *flag.FlagSet) inputFlags {
	return inputFlags{
		cfgPath:      fs.String("config", "", "Path to YAML config"),
		forecastPath: fs.String("forecast", "forecast.json", "Path to forecast JSON"),
		pricePath:    fs.String("prices", "prices.json", "Path to price feed JSON"),
		soc:          fs.Float64("soc", -1, "Initial SoC [%] (default: ess.initial_soc)"),
	}
}

// load builds the optimizer input from files, starting at the forecast start.
func (f inputFlags) load() (*config.Config, model.Horizon, model.Params) {
	if *f.cfgPath == "" {
		fmt.Println("--config is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*f.cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	src := data.FileSource{ForecastPath: *f.forecastPath, PricePath: *f.pricePath}
	fc, err := src.Forecast(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("load forecast")
	}

	reading := cfg.Reading()
	if *f.soc >= 0 {
		reading.Soc = *f.soc
	}
	p, err := optimizer.BuildParams(fc.Start, reading, cfg.Site())
	if err != nil {
		log.Fatal().Err(err).Msg("build params")
	}
	end := p.Time.Add(time.Duration(p.HorizonQuarters) * model.QuarterDuration)
	prices, err := src.Prices(context.Background(), p.Time, end)
	if err != nil {
		log.Fatal().Err(err).Msg("load prices")
	}
	return cfg, optimizer.BuildHorizon(fc, prices, p), p
}

func cmdOptimize(args []string) {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	in := addInputFlags(fs)
	outPath := fs.String("out", "results/schedule.csv", "Output CSV path")
	timeout := fs.Duration("timeout", 2*time.Minute, "Optimizer time limit")
	_ = fs.Parse(args)

	cfg, h, p := in.load()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s, err := optimizer.New(cfg.OptimizerSettings(), log.Logger).Optimize(ctx, h, p)
	if err != nil {
		log.Fatal().Err(err).Msg("optimize")
	}

	for _, line := range optimizer.Dump(p, s) {
		fmt.Println(line)
	}
	writeLedger(*outPath, simulator.Ledger(s, p))

	fmt.Printf("Periods=%d TotalCost=%.4f TimedOut=%t\n", len(s.Periods), s.TotalCost, s.TimedOut)
	for _, d := range s.Degraded {
		fmt.Printf("Degraded: %v\n", d)
	}
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	logPath := fs.String("log", "", "Path to a log containing a schedule table")
	outPath := fs.String("out", "", "Optional output CSV path")
	_ = fs.Parse(args)

	if *logPath == "" {
		fmt.Println("--log is required")
		os.Exit(2)
	}
	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open log")
	}
	defer f.Close()

	p, rows, err := optimizer.ParseDump(f)
	if err != nil {
		log.Fatal().Err(err).Msg("parse schedule table")
	}
	res, err := optimizer.Replay(p, rows)
	if err != nil {
		log.Fatal().Err(err).Msg("replay")
	}

	for _, line := range optimizer.Dump(p, res.Schedule) {
		fmt.Println(line)
	}
	if *outPath != "" {
		writeLedger(*outPath, simulator.Ledger(res.Schedule, p))
	}
	fmt.Printf("Rows=%d Cost=%.4f EssFinal=%d Infeasible=%d\n", len(rows), res.Cost, res.EssFinal, res.Infeasible)
}

func cmdPrices(args []string) {
	fs := flag.NewFlagSet("prices", flag.ExitOnError)
	in := addInputFlags(fs)
	_ = fs.Parse(args)

	_, h, p := in.load()
	st := analysis.Summarize(h, p)

	fmt.Printf("%-25s %-25s %-6s %-8s %-8s %-8s %-8s %-10s %-10s\n", "start", "end", "count", "min", "max", "mean", "stddev", "p95-p05", "cycle")
	fmt.Printf("%-25s %-25s %-6d %-8.2f %-8.2f %-8.2f %-8.2f %-10.2f %-10.4f\n",
		st.Start.Format(time.RFC3339),
		st.End.Format(time.RFC3339),
		st.Count,
		st.Min,
		st.Max,
		st.Mean,
		st.StdDev,
		st.SpreadP95P05,
		st.CycleValue,
	)
	if st.Flat() {
		fmt.Println("prices are flat; no arbitrage to schedule")
	}
}

func writeLedger(path string, rows []simulator.LedgerRow) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output dir")
	}
	if err := simulator.WriteLedgerCSV(path, rows); err != nil {
		log.Fatal().Err(err).Msg("write csv")
	}
	fmt.Printf("Wrote %d rows to %s\n", len(rows), path)
}
