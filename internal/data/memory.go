package data

import (
	"context"
	"sync"
	"time"

	"battery-scheduler/internal/model"
)

// MemoryForecast holds the latest forecast pushed by the provider over
// HTTP or MQTT.
type MemoryForecast struct {
	mu       sync.RWMutex
	snapshot *model.ForecastSnapshot
	updated  time.Time
}

func (m *MemoryForecast) Set(fc model.ForecastSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &fc
	m.updated = time.Now()
}

// Updated is the time of the last Set, zero if none.
func (m *MemoryForecast) Updated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated
}

func (m *MemoryForecast) Forecast(ctx context.Context) (model.ForecastSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return model.ForecastSnapshot{}, model.ErrForecastUnavailable
	}
	return *m.snapshot, nil
}
