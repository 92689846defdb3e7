package model

import "time"

// ForecastSnapshot matches the JSON shape delivered by the forecast provider.
// Values are average power [W] per quarter starting at Start; a null entry
// means the provider has no value for that quarter.
//
// Example:
//
//	{
//	  "start": "2024-05-01T10:00:00Z",
//	  "production": [0, 120, null, 300],
//	  "consumption": [450, 460, 470, 480]
//	}
type ForecastSnapshot struct {
	Start       time.Time `json:"start"`
	Production  []*int    `json:"production"`
	Consumption []*int    `json:"consumption"`

	// UnmanagedConsumption excludes loads that follow the schedule themselves.
	// When present it replaces Consumption after the first hour.
	UnmanagedConsumption []*int `json:"unmanaged_consumption,omitempty"`
}

// PriceResponse matches the JSON shape of the price feed.
//
//	{
//	  "status_code": 200,
//	  "data": [ {"interval_start_utc": "...", "interval_end_utc": "...", "price": 81.3}, ... ]
//	}
type PriceResponse struct {
	StatusCode int             `json:"status_code"`
	Data       []PriceInterval `json:"data"`
}

// PriceInterval is one price row in currency/MWh. Feeds may publish hourly
// or quarterly rows; a null price means "not yet known".
type PriceInterval struct {
	IntervalStartUTC time.Time `json:"interval_start_utc"`
	IntervalEndUTC   time.Time `json:"interval_end_utc"`
	Price            *float64  `json:"price"`
}

func (i PriceInterval) Duration() time.Duration {
	return i.IntervalEndUTC.Sub(i.IntervalStartUTC)
}

// EssReading is a live view of the storage device.
type EssReading struct {
	// Capacity in Wh; may reflect state of health.
	Capacity int
	// Soc in percent.
	Soc float64
	// Power limits in W.
	MaxChargePower    int
	MaxDischargePower int
}
