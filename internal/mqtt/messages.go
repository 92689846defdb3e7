package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"battery-scheduler/internal/model"
	"battery-scheduler/internal/timedata"
)

// Telemetry is one measured channel value as published by the site.
//
//	{"channel": "_sum/EssSoc", "time": "2024-05-01T10:03:00Z", "value": 57}
//
// Value may also be a numeric string. Time defaults to the receive time.
type Telemetry struct {
	Channel string          `json:"channel"`
	Time    time.Time       `json:"time"`
	Value   json.RawMessage `json:"value"`
}

// StateMessage is published retained on the state topic whenever the state
// to apply changes or a new schedule is published.
type StateMessage struct {
	Time         time.Time `json:"time"`
	State        string    `json:"state"`
	StateValue   int       `json:"state_value"`
	PlannedState string    `json:"planned_state"`
	Soc          *int      `json:"soc,omitempty"`
	GridW        *int      `json:"grid_w,omitempty"`
	EssW         *int      `json:"ess_w,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
}

var errEmptyPayload = errors.New("empty payload")

// DecodeForecast parses a forecast snapshot. Start and consumption are
// required.
func DecodeForecast(payload []byte) (model.ForecastSnapshot, error) {
	var fc model.ForecastSnapshot
	if len(bytes.TrimSpace(payload)) == 0 {
		return fc, errEmptyPayload
	}
	if err := json.Unmarshal(payload, &fc); err != nil {
		return fc, fmt.Errorf("decode forecast: %w", err)
	}
	if fc.Start.IsZero() || len(fc.Consumption) == 0 {
		return fc, errors.New("forecast without start or consumption")
	}
	return fc, nil
}

// DecodeTelemetry parses a single reading or an array of readings.
// Readings without a usable value are skipped.
func DecodeTelemetry(payload []byte, now time.Time) ([]timedata.Sample, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}
	var readings []Telemetry
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &readings); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w", err)
		}
	} else {
		var r Telemetry
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w", err)
		}
		readings = []Telemetry{r}
	}

	samples := make([]timedata.Sample, 0, len(readings))
	for _, r := range readings {
		if r.Channel == "" {
			return nil, errors.New("telemetry without channel")
		}
		v, ok := parseValue(r.Value)
		if !ok {
			continue
		}
		t := r.Time
		if t.IsZero() {
			t = now
		}
		samples = append(samples, timedata.Sample{Channel: r.Channel, Time: t, Value: v})
	}
	return samples, nil
}

// parseValue accepts numbers and numeric strings. Home automation bridges
// send "unavailable" when a sensor dropped out.
func parseValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
