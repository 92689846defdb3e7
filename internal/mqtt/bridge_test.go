package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-scheduler/internal/config"
	"battery-scheduler/internal/data"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/timedata"
)

var t0 = time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

type requests []string

func (r *requests) Request(source string) bool {
	*r = append(*r, source)
	return true
}

func newBridge(t *testing.T) (*Bridge, *schedule.Store, *data.MemoryForecast, *requests, *timedata.Repository) {
	t.Helper()
	repo, err := timedata.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store := schedule.NewStore()
	fc := &data.MemoryForecast{}
	reqs := &requests{}
	b := NewBridge(config.MQTTConfig{
		ForecastTopic:  "scheduler/forecast",
		TelemetryTopic: "scheduler/telemetry",
		StateTopic:     "scheduler/state",
	}, fc, repo, reqs, store, zerolog.Nop())
	b.now = func() time.Time { return t0 }
	return b, store, fc, reqs, repo
}

func publishChargeGrid(t *testing.T, store *schedule.Store) {
	t.Helper()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := model.NewSchedule(start, []model.Period{{
		Time:       start,
		State:      model.ChargeGrid,
		OptimizeBy: model.OptimizeByQuarter,
		Quarters:   []model.QuarterPeriod{{Time: start, Price: 20}, {Time: start.Add(model.QuarterDuration), Price: 30}},
		Flows:      []model.EnergyFlow{{Grid: 1000, Ess: 1000, EssInitial: 5000}, {Grid: 1000, Ess: 1000, EssInitial: 6000}},
		Forecast:   true,
	}})
	require.NoError(t, err)
	s.RunID = "r1"
	store.Publish(&schedule.Snapshot{
		Schedule: s,
		Params:   model.Params{EssTotalEnergy: 10000, EssMinSocEnergy: 1000, EssMaxSocEnergy: 9000},
		Seq:      1,
	})
}

func drain(t *testing.T, b *Bridge) StateMessage {
	t.Helper()
	select {
	case out := <-b.outbox:
		assert.Equal(t, "scheduler/state", out.topic)
		var msg StateMessage
		require.NoError(t, json.Unmarshal(out.payload, &msg))
		return msg
	default:
		t.Fatal("no state message queued")
		return StateMessage{}
	}
}

func TestDecodeTelemetry(t *testing.T) {
	samples, err := DecodeTelemetry([]byte(`{"channel":"_sum/EssSoc","value":57}`), t0)
	require.NoError(t, err)
	assert.Equal(t, []timedata.Sample{{Channel: "_sum/EssSoc", Time: t0, Value: 57}}, samples)

	samples, err = DecodeTelemetry([]byte(`[
		{"channel":"_sum/GridActivePower","time":"2024-05-01T10:01:00Z","value":"1200.5"},
		{"channel":"_sum/ProductionActivePower","value":"unavailable"},
		{"channel":"_sum/ConsumptionActivePower","value":null}
	]`), t0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1200.5, samples[0].Value)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC), samples[0].Time)

	_, err = DecodeTelemetry([]byte(`{"value":1}`), t0)
	assert.Error(t, err)
	_, err = DecodeTelemetry([]byte(`  `), t0)
	assert.Error(t, err)
	_, err = DecodeTelemetry([]byte(`[{`), t0)
	assert.Error(t, err)
}

func TestDecodeForecast(t *testing.T) {
	fc, err := DecodeForecast([]byte(`{"start":"2024-05-01T10:00:00Z","production":[0,null],"consumption":[400,410]}`))
	require.NoError(t, err)
	assert.Len(t, fc.Consumption, 2)
	assert.Nil(t, fc.Production[1])

	_, err = DecodeForecast([]byte(`{"consumption":[1]}`))
	assert.Error(t, err)
	_, err = DecodeForecast([]byte(`nope`))
	assert.Error(t, err)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://broker:1883", BrokerURL("broker"))
	assert.Equal(t, "tcp://broker:1884", BrokerURL("broker:1884"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL("ssl://broker:8883"))
	assert.Equal(t, "ws://broker:1883", BrokerURL("ws://broker"))
}

func TestRoutes_SkipsEmptyTopics(t *testing.T) {
	b, _, _, _, _ := newBridge(t)
	routes := b.routes()
	assert.Len(t, routes, 2)
	assert.Contains(t, routes, "scheduler/forecast")

	// a forecast file source clears the forecast topic
	b.cfg.ForecastTopic = ""
	routes = b.routes()
	assert.Len(t, routes, 1)
	assert.Contains(t, routes, "scheduler/telemetry")
	assert.NotContains(t, routes, "")
}

func TestHandleForecast(t *testing.T) {
	b, _, fc, reqs, _ := newBridge(t)

	require.NoError(t, b.HandleForecast(t.Context(), []byte(`{"start":"2024-05-01T10:00:00Z","consumption":[400]}`)))
	got, err := fc.Forecast(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 400, *got.Consumption[0])
	assert.Equal(t, []string{"mqtt"}, []string(*reqs))

	assert.Error(t, b.HandleForecast(t.Context(), []byte(`{}`)))
	assert.Len(t, *reqs, 1)
}

func TestHandleTelemetry_RepublishesOnSocChange(t *testing.T) {
	b, store, _, _, repo := newBridge(t)
	publishChargeGrid(t, store)

	// publish signal from the store
	select {
	case <-b.published:
	default:
		t.Fatal("publish not signalled")
	}

	b.publishState(t.Context(), true)
	msg := drain(t, b)
	assert.Equal(t, "CHARGE_GRID", msg.State)
	assert.Equal(t, "r1", msg.RunID)
	assert.Equal(t, 4000, *msg.GridW)
	assert.Nil(t, msg.Soc)

	// unchanged state is not sent again
	require.NoError(t, b.HandleTelemetry(t.Context(), []byte(`{"channel":"_sum/EssSoc","value":50}`)))
	assert.Empty(t, b.outbox)

	require.NoError(t, b.HandleTelemetry(t.Context(), []byte(`{"channel":"_sum/EssSoc","value":95}`)))
	msg = drain(t, b)
	assert.Equal(t, "DELAY_DISCHARGE", msg.State)
	assert.Equal(t, "CHARGE_GRID", msg.PlannedState)
	assert.Equal(t, 95, *msg.Soc)

	latest, err := repo.Latest(t.Context(), timedata.ChannelEssSoc)
	require.NoError(t, err)
	assert.Equal(t, 95.0, latest.Value)
}

func TestState_NoSchedule(t *testing.T) {
	b, _, _, _, _ := newBridge(t)
	msg := b.State(t.Context())
	assert.Equal(t, "BALANCING", msg.State)
	assert.Equal(t, "BALANCING", msg.PlannedState)
	assert.Equal(t, int(model.Balancing), msg.StateValue)
	assert.Nil(t, msg.GridW)
	assert.Empty(t, msg.RunID)
}
