package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-scheduler/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MergesEssFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "home.yaml", `
ess:
  name: home-10kwh
  capacity_wh: 10000
  max_charge_power_w: 5000
  max_discharge_power_w: 5000
  min_soc: 10
`)
	path := writeFile(t, dir, "config.yaml", `
ess_file: home.yaml
ess:
  max_charge_power_w: 3000
  control_mode: charge_discharge
grid:
  max_buy_power_w: 12000
  export_credit_factor: 0.5
trigger:
  daily_at: "13:30"
  timezone: UTC
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "home-10kwh", c.Ess.Name)
	assert.Equal(t, 10000, c.Ess.CapacityWh)
	assert.Equal(t, 3000, c.Ess.MaxChargePowerW)
	assert.Equal(t, 5000, c.Ess.MaxDischargePowerW)
	assert.Equal(t, 90.0, c.Ess.MaxSocPercent)
	assert.Equal(t, 10.0, c.Ess.InitialSocPercent)
	assert.Equal(t, "ctrlScheduler0", c.Ess.ComponentID)

	// defaults
	assert.Equal(t, 96, c.Optimizer.HorizonQuarters)
	assert.Equal(t, 15*time.Minute, c.Trigger.Interval)
	assert.Equal(t, 3*time.Hour, c.Query.Lookback)
	assert.Equal(t, ":8080", c.API.Addr)

	site := c.Site()
	assert.Equal(t, model.ControlModeChargeDischarge, site.ControlMode)
	assert.Equal(t, 12000, site.MaxBuyFromGridPower)
	assert.Equal(t, 0.5, site.ExportCreditFactor)

	tc := c.TriggerSettings()
	assert.Equal(t, "13:30", tc.DailyAt)
	assert.Equal(t, time.UTC, tc.Location)

	q := c.QuerySettings()
	assert.Equal(t, 96, q.HorizonQuarters)
	assert.Equal(t, "ctrlScheduler0", q.ComponentID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
ess:
  capacity_wh: 8000
`)
	t.Setenv("ESS_CAPACITY_WH", "12000")
	t.Setenv("OPTIMIZER_HORIZON_QUARTERS", "48")
	t.Setenv("API_CORS_ORIGINS", "http://a.example,http://b.example")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12000, c.Ess.CapacityWh)
	assert.Equal(t, 48, c.Optimizer.HorizonQuarters)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.API.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no device":     "ess: {}\n",
		"control mode":  "ess: {capacity_wh: 1000, control_mode: bogus}\n",
		"soc window":    "ess: {capacity_wh: 1000, min_soc: 95}\n",
		"export credit": "ess: {capacity_wh: 1000}\ngrid: {export_credit_factor: 2}\n",
		"daily at":      "ess: {capacity_wh: 1000}\ntrigger: {daily_at: \"25:61\"}\n",
		"timezone":      "ess: {capacity_wh: 1000}\ntrigger: {timezone: Mars/Olympus}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, "c.yaml", body))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeFile(t, dir, "none.yaml", "ess: {}\n"))
	assert.ErrorIs(t, err, model.ErrNoDevice)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ForecastFileDisablesPushedForecasts(t *testing.T) {
	dir := t.TempDir()
	pushed, err := Load(writeFile(t, dir, "pushed.yaml", "ess: {capacity_wh: 1000}\nmqtt: {broker: localhost}\n"))
	require.NoError(t, err)
	assert.True(t, pushed.PushedForecasts())
	assert.Equal(t, "scheduler/forecast", pushed.MQTT.ForecastTopic)

	file, err := Load(writeFile(t, dir, "file.yaml", `
ess: {capacity_wh: 1000}
mqtt: {broker: localhost, forecast_topic: site/forecast}
sources: {forecast_file: forecast.json}
`))
	require.NoError(t, err)
	assert.False(t, file.PushedForecasts())
	assert.Empty(t, file.MQTT.ForecastTopic)
	assert.Equal(t, "scheduler/telemetry", file.MQTT.TelemetryTopic)
}

func TestMergeEss(t *testing.T) {
	base := EssConfig{Name: "a", CapacityWh: 1000, MinSocPercent: 5}
	out := MergeEss(base, EssConfig{CapacityWh: 2000, ControlMode: "delay_discharge"})
	assert.Equal(t, "a", out.Name)
	assert.Equal(t, 2000, out.CapacityWh)
	assert.Equal(t, 5.0, out.MinSocPercent)
	assert.Equal(t, "delay_discharge", out.ControlMode)
}

func TestLoad_ExampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "examples", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Home storage 10 kWh", c.Ess.Name)
	assert.Equal(t, 10000, c.Ess.CapacityWh)
	assert.Equal(t, 30.0, c.Ess.InitialSocPercent)
	assert.Equal(t, model.ControlModeChargeConsumption, c.Site().ControlMode)

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
	assert.Equal(t, 3*time.Hour, c.QuerySettings().Lookback)
	assert.Empty(t, c.MQTT.Broker)
}
