package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"battery-scheduler/internal/api"
	"battery-scheduler/internal/config"
	"battery-scheduler/internal/data"
	"battery-scheduler/internal/metrics"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/mqtt"
	"battery-scheduler/internal/optimizer"
	"battery-scheduler/internal/query"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/timedata"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	essDir := flag.String("ess-dir", "examples/ess", "directory of storage preset files")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *essDir); err != nil {
		log.Fatal().Err(err).Msg("scheduler stopped")
	}
	log.Info().Msg("scheduler stopped")
}

func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(ctx context.Context, cfg *config.Config, essDir string) error {
	logger := log.Logger

	repo, err := timedata.Open(cfg.Timedata.Path)
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	g, ctx := errgroup.WithContext(ctx)

	// inputs
	forecasts := &data.MemoryForecast{}
	var forecastSource schedule.ForecastSource = forecasts
	if !cfg.PushedForecasts() {
		forecastSource = data.FileSource{ForecastPath: cfg.Sources.ForecastFile}
		logger.Info().Str("file", cfg.Sources.ForecastFile).Msg("forecast file takes precedence, pushed forecasts are ignored")
	}
	var prices schedule.PriceSource = data.FileSource{PricePath: cfg.Sources.PriceFile}
	if cfg.Sources.PriceFeedURL != "" {
		cache := data.NewResponseCache(cfg.Sources.PriceCacheTTL)
		prices = data.NewPriceFeedClient(cfg.Sources.PriceFeedKey, cfg.Sources.PriceFeedURL, cfg.Sources.PriceArea, cache, logger)
		g.Go(func() error {
			cache.RunCleanup(ctx, cfg.Sources.PriceCacheTTL)
			return nil
		})
	}
	ess := &essWithFallback{
		live: &timedata.EssSource{
			Repo:              repo,
			Capacity:          cfg.Ess.CapacityWh,
			MaxChargePower:    cfg.Ess.MaxChargePowerW,
			MaxDischargePower: cfg.Ess.MaxDischargePowerW,
			MaxAge:            cfg.Timedata.MaxSocAge,
		},
		nominal: cfg.Reading(),
		log:     logger,
	}

	// scheduling
	store := schedule.NewStore()
	planner := &schedule.SourcePlanner{
		Forecasts: forecastSource,
		Prices:    prices,
		Ess:       ess,
		Optimizer: optimizer.New(cfg.OptimizerSettings(), logger),
		Site:      cfg.Site(),
	}
	trigger, err := schedule.NewTrigger(cfg.TriggerSettings(), planner, store, m, logger)
	if err != nil {
		return err
	}
	g.Go(func() error { return trigger.Run(ctx) })

	recorder := timedata.NewRecorder(repo, schedule.NewControl(store), cfg.Ess.ComponentID, logger)
	g.Go(func() error {
		recorder.Run(ctx)
		return nil
	})
	g.Go(func() error {
		prune(ctx, repo, cfg.Timedata.Retention)
		return nil
	})

	if cfg.MQTT.Broker != "" {
		bridge := mqtt.NewBridge(cfg.MQTT, forecasts, repo, trigger, store, logger)
		g.Go(func() error { return bridge.Run(ctx) })
	}

	// http
	if cfg.API.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); err != nil {
		log.Debug().Str("dir", staticDir).Msg("static directory not found, skipping static file serving")
		staticDir = ""
	}
	deps := api.Deps{
		Query:       query.NewService(cfg.QuerySettings(), store, repo, m, logger),
		Store:       store,
		Trigger:     trigger,
		Timedata:    repo,
		Metrics:     m,
		ControlMode: model.ControlMode(cfg.Ess.ControlMode),
		EssDir:      essDir,
		CORSOrigins: cfg.API.CORSOrigins,
		StaticDir:   staticDir,
	}
	if cfg.PushedForecasts() {
		deps.Forecasts = forecasts
	}
	router, _ := api.NewRouter(deps, logger)
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// prune drops telemetry older than retention once an hour.
func prune(ctx context.Context, repo *timedata.Repository, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := repo.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("prune timedata")
		} else if n > 0 {
			log.Debug().Int64("rows", n).Msg("pruned timedata")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// essWithFallback plans with the configured nominal device until the first
// SoC sample arrives.
type essWithFallback struct {
	live    *timedata.EssSource
	nominal model.EssReading
	log     zerolog.Logger
}

func (e *essWithFallback) Ess(ctx context.Context) (model.EssReading, error) {
	r, err := e.live.Ess(ctx)
	if errors.Is(err, model.ErrNoDevice) {
		e.log.Debug().Float64("soc", e.nominal.Soc).Msg("no soc telemetry, using configured initial soc")
		return e.nominal, nil
	}
	return r, err
}
