package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/optimizer"
	"battery-scheduler/internal/query"
	"battery-scheduler/internal/schedule"
)

// Config is the on-disk configuration shape (YAML). Every field can be
// overridden from the environment.
type Config struct {
	// Optional: load storage parameters from a separate YAML (e.g. examples/ess/*.yaml).
	// Explicit values under ess override the file.
	EssFile   string          `yaml:"ess_file" env:"ESS_FILE"`
	Ess       EssConfig       `yaml:"ess" env-prefix:"ESS_"`
	Grid      GridConfig      `yaml:"grid" env-prefix:"GRID_"`
	Optimizer OptimizerConfig `yaml:"optimizer" env-prefix:"OPTIMIZER_"`
	Trigger   TriggerConfig   `yaml:"trigger" env-prefix:"TRIGGER_"`
	Query     QueryConfig     `yaml:"query" env-prefix:"QUERY_"`
	Sources   SourcesConfig   `yaml:"sources" env-prefix:"SOURCES_"`
	Timedata  TimedataConfig  `yaml:"timedata" env-prefix:"TIMEDATA_"`
	MQTT      MQTTConfig      `yaml:"mqtt" env-prefix:"MQTT_"`
	API       APIConfig       `yaml:"api" env-prefix:"API_"`
	Log       LogConfig       `yaml:"log" env-prefix:"LOG_"`
}

type EssConfig struct {
	Name               string  `yaml:"name" env:"NAME"`
	ComponentID        string  `yaml:"component_id" env:"COMPONENT_ID"`
	CapacityWh         int     `yaml:"capacity_wh" env:"CAPACITY_WH"`
	MaxChargePowerW    int     `yaml:"max_charge_power_w" env:"MAX_CHARGE_POWER_W"`
	MaxDischargePowerW int     `yaml:"max_discharge_power_w" env:"MAX_DISCHARGE_POWER_W"`
	PowerFloorW        int     `yaml:"power_floor_w" env:"POWER_FLOOR_W"`
	MinSocPercent      float64 `yaml:"min_soc" env:"MIN_SOC"`
	MaxSocPercent      float64 `yaml:"max_soc" env:"MAX_SOC"`
	// InitialSocPercent is used by offline runs without live telemetry.
	InitialSocPercent float64 `yaml:"initial_soc" env:"INITIAL_SOC"`
	ControlMode       string  `yaml:"control_mode" env:"CONTROL_MODE"`
}

type GridConfig struct {
	MaxBuyPowerW       int     `yaml:"max_buy_power_w" env:"MAX_BUY_POWER_W"`
	ExportCreditFactor float64 `yaml:"export_credit_factor" env:"EXPORT_CREDIT_FACTOR"`
}

type OptimizerConfig struct {
	HorizonQuarters   int  `yaml:"horizon_quarters" env:"HORIZON_QUARTERS" env-default:"96"`
	ExhaustiveLimit   int  `yaml:"exhaustive_limit" env:"EXHAUSTIVE_LIMIT"`
	Buckets           int  `yaml:"buckets" env:"BUCKETS"`
	Workers           int  `yaml:"workers" env:"WORKERS"`
	DisableRefinement bool `yaml:"disable_refinement" env:"DISABLE_REFINEMENT"`
}

type TriggerConfig struct {
	DailyAt           string        `yaml:"daily_at" env:"DAILY_AT" env-default:"14:05"`
	Interval          time.Duration `yaml:"interval" env:"INTERVAL" env-default:"15m"`
	Budget            time.Duration `yaml:"budget" env:"BUDGET" env-default:"2m"`
	PinCurrentQuarter bool          `yaml:"pin_current_quarter" env:"PIN_CURRENT_QUARTER" env-default:"true"`
	Timezone          string        `yaml:"timezone" env:"TIMEZONE" env-default:"Local"`
}

type QueryConfig struct {
	Lookback        time.Duration `yaml:"lookback" env:"LOOKBACK" env-default:"3h"`
	HistoricTimeout time.Duration `yaml:"historic_timeout" env:"HISTORIC_TIMEOUT" env-default:"5s"`
}

// SourcesConfig selects where forecasts and prices come from. Without a
// price feed URL prices are read from PriceFile; without ForecastFile the
// forecast must be pushed over HTTP or MQTT. A ForecastFile takes
// precedence over pushed forecasts.
type SourcesConfig struct {
	ForecastFile  string        `yaml:"forecast_file" env:"FORECAST_FILE"`
	PriceFile     string        `yaml:"price_file" env:"PRICE_FILE"`
	PriceFeedURL  string        `yaml:"price_feed_url" env:"PRICE_FEED_URL"`
	PriceFeedKey  string        `yaml:"price_feed_key" env:"PRICE_FEED_KEY"`
	PriceArea     string        `yaml:"price_area" env:"PRICE_AREA"`
	PriceCacheTTL time.Duration `yaml:"price_cache_ttl" env:"PRICE_CACHE_TTL" env-default:"1h"`
}

type TimedataConfig struct {
	Path      string        `yaml:"path" env:"PATH" env-default:"timedata.db"`
	Retention time.Duration `yaml:"retention" env:"RETENTION" env-default:"168h"`
	MaxSocAge time.Duration `yaml:"max_soc_age" env:"MAX_SOC_AGE" env-default:"10m"`
}

type MQTTConfig struct {
	Broker         string `yaml:"broker" env:"BROKER"`
	ClientID       string `yaml:"client_id" env:"CLIENT_ID" env-default:"battery-scheduler"`
	Username       string `yaml:"username" env:"USERNAME"`
	Password       string `yaml:"password" env:"PASSWORD"`
	ForecastTopic  string `yaml:"forecast_topic" env:"FORECAST_TOPIC" env-default:"scheduler/forecast"`
	TelemetryTopic string `yaml:"telemetry_topic" env:"TELEMETRY_TOPIC" env-default:"scheduler/telemetry"`
	StateTopic     string `yaml:"state_topic" env:"STATE_TOPIC" env-default:"scheduler/state"`
}

type APIConfig struct {
	Addr        string   `yaml:"addr" env:"ADDR" env-default:":8080"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:","`
	Production  bool     `yaml:"production" env:"PRODUCTION"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config, but does not validate it.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	var c Config
	if err := cleanenv.ReadConfig(path, &c); err != nil {
		return nil, err
	}
	if c.EssFile != "" {
		essPath := c.EssFile
		if !filepath.IsAbs(essPath) {
			// Prefer paths relative to the config file, fall back to cwd.
			cand := filepath.Join(filepath.Dir(path), essPath)
			if _, err := os.Stat(cand); err == nil {
				essPath = cand
			}
		}
		loaded, err := loadEssFile(essPath)
		if err != nil {
			return nil, err
		}
		c.Ess = MergeEss(loaded, c.Ess)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Ess.MaxSocPercent == 0 {
		c.Ess.MaxSocPercent = optimizer.DefaultMaxSocPercent
	}
	if c.Ess.InitialSocPercent == 0 {
		c.Ess.InitialSocPercent = c.Ess.MinSocPercent
	}
	if c.Ess.ComponentID == "" {
		c.Ess.ComponentID = "ctrlScheduler0"
	}
	if !c.PushedForecasts() {
		c.MQTT.ForecastTopic = ""
	}
}

// PushedForecasts reports whether forecasts arrive over HTTP or MQTT rather
// than from Sources.ForecastFile.
func (c *Config) PushedForecasts() bool {
	return c.Sources.ForecastFile == ""
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Ess.CapacityWh == 0 && c.Ess.MaxChargePowerW == 0 && c.Ess.MaxDischargePowerW == 0 {
		return model.ErrNoDevice
	}
	if c.Optimizer.HorizonQuarters <= 0 {
		return errors.New("optimizer.horizon_quarters must be > 0")
	}
	if _, err := c.Site().ControlMode.States(); err != nil {
		return fmt.Errorf("ess config invalid: %w", err)
	}
	if c.Ess.MinSocPercent < 0 || c.Ess.MinSocPercent > c.Ess.MaxSocPercent || c.Ess.MaxSocPercent > 100 {
		return fmt.Errorf("ess config invalid: soc window [%g, %g]", c.Ess.MinSocPercent, c.Ess.MaxSocPercent)
	}
	if c.Grid.ExportCreditFactor < 0 || c.Grid.ExportCreditFactor > 1 {
		return errors.New("grid.export_credit_factor must be within [0, 1]")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("trigger.timezone: %w", err)
	}
	if c.Trigger.DailyAt != "" {
		if err := schedule.ValidateDailyAt(c.Trigger.DailyAt); err != nil {
			return fmt.Errorf("trigger config invalid: %w", err)
		}
	}
	return nil
}

// Site maps the storage and grid sections onto the optimizer inputs.
func (c *Config) Site() optimizer.Site {
	return optimizer.Site{
		MinSocPercent:       c.Ess.MinSocPercent,
		MaxSocPercent:       c.Ess.MaxSocPercent,
		PowerFloor:          c.Ess.PowerFloorW,
		MaxBuyFromGridPower: c.Grid.MaxBuyPowerW,
		ExportCreditFactor:  c.Grid.ExportCreditFactor,
		HorizonQuarters:     c.Optimizer.HorizonQuarters,
		ControlMode:         model.ControlMode(c.Ess.ControlMode),
	}
}

// Reading is the configured nominal device, used when no telemetry exists.
func (c *Config) Reading() model.EssReading {
	return model.EssReading{
		Capacity:          c.Ess.CapacityWh,
		Soc:               c.Ess.InitialSocPercent,
		MaxChargePower:    c.Ess.MaxChargePowerW,
		MaxDischargePower: c.Ess.MaxDischargePowerW,
	}
}

func (c *Config) OptimizerSettings() optimizer.Config {
	return optimizer.Config{
		ExhaustiveLimit:   c.Optimizer.ExhaustiveLimit,
		Buckets:           c.Optimizer.Buckets,
		Workers:           c.Optimizer.Workers,
		DisableRefinement: c.Optimizer.DisableRefinement,
	}
}

func (c *Config) Location() (*time.Location, error) {
	if c.Trigger.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Trigger.Timezone)
}

func (c *Config) TriggerSettings() schedule.TriggerConfig {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return schedule.TriggerConfig{
		DailyAt:           c.Trigger.DailyAt,
		Interval:          c.Trigger.Interval,
		Budget:            c.Trigger.Budget,
		PinCurrentQuarter: c.Trigger.PinCurrentQuarter,
		Location:          loc,
	}
}

func (c *Config) QuerySettings() query.Config {
	return query.Config{
		Lookback:        c.Query.Lookback,
		HistoricTimeout: c.Query.HistoricTimeout,
		HorizonQuarters: c.Optimizer.HorizonQuarters,
		ComponentID:     c.Ess.ComponentID,
	}
}

type essFileWrapper struct {
	Ess EssConfig `yaml:"ess"`
}

func loadEssFile(path string) (EssConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return EssConfig{}, err
	}
	var w essFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return EssConfig{}, err
	}
	return w.Ess, nil
}

// MergeEss overlays non-zero fields from override onto base.
func MergeEss(base, override EssConfig) EssConfig {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.ComponentID != "" {
		out.ComponentID = override.ComponentID
	}
	if override.CapacityWh != 0 {
		out.CapacityWh = override.CapacityWh
	}
	if override.MaxChargePowerW != 0 {
		out.MaxChargePowerW = override.MaxChargePowerW
	}
	if override.MaxDischargePowerW != 0 {
		out.MaxDischargePowerW = override.MaxDischargePowerW
	}
	if override.PowerFloorW != 0 {
		out.PowerFloorW = override.PowerFloorW
	}
	// Note: a zero min_soc cannot override a file value.
	if override.MinSocPercent != 0 {
		out.MinSocPercent = override.MinSocPercent
	}
	if override.MaxSocPercent != 0 {
		out.MaxSocPercent = override.MaxSocPercent
	}
	if override.InitialSocPercent != 0 {
		out.InitialSocPercent = override.InitialSocPercent
	}
	if override.ControlMode != "" {
		out.ControlMode = override.ControlMode
	}
	return out
}
