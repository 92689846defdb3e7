package models

import (
	"encoding/json"
	"time"

	"battery-scheduler/internal/query"
)

// ScheduleResponse is the body of GET /api/v1/schedule. Schedule has the
// same shape as the getSchedule JSON-RPC result.
type ScheduleResponse struct {
	RunID      string        `json:"run_id,omitempty"`
	Seq        uint64        `json:"seq,omitempty"`
	ComputedAt *time.Time    `json:"computed_at,omitempty"`
	TotalCost  *float64      `json:"total_cost,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Degraded   []string      `json:"degraded,omitempty"`
	Prices     *PriceSummary `json:"prices,omitempty"`
	Schedule   []query.Entry `json:"schedule"`
}

// PriceSummary describes the prices of the planned horizon.
type PriceSummary struct {
	Count        int     `json:"count"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	SpreadP95P05 float64 `json:"spread_p95_p05"`
	CycleValue   float64 `json:"cycle_value"`
}

// PeriodInfo is one period of the published schedule.
type PeriodInfo struct {
	Time       time.Time `json:"time"`
	End        time.Time `json:"end"`
	State      string    `json:"state"`
	OptimizeBy string    `json:"optimize_by"`
	Price      float64   `json:"price"`
	EssInitial int       `json:"ess_initial"`
	Forecast   bool      `json:"forecast"`
	Grid       *int      `json:"grid,omitempty"` // Wh over the period
	Ess        *int      `json:"ess,omitempty"`  // Wh over the period
}

// CurrentResponse is what the device should do right now.
type CurrentResponse struct {
	Time         time.Time `json:"time"`
	PlannedState string    `json:"planned_state"`
	State        string    `json:"state"`
	StateValue   int       `json:"state_value"`
	Soc          *int      `json:"soc,omitempty"`
	Grid         *int      `json:"grid,omitempty"` // W
	Ess          *int      `json:"ess,omitempty"`  // W
}

// RecomputeResponse reports whether a recompute was queued.
type RecomputeResponse struct {
	Queued  bool `json:"queued"`
	Running bool `json:"running"`
}

// StateInfo describes one operating state.
type StateInfo struct {
	Name           string `json:"name"`
	Value          int    `json:"value"`
	Description    string `json:"description"`
	AllowCharge    bool   `json:"allow_charge"`
	AllowDischarge bool   `json:"allow_discharge"`
	Enabled        bool   `json:"enabled"`
}

// EssInfo represents information about a storage preset file
type EssInfo struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	File  string   `json:"file"`
	Specs EssSpecs `json:"specs"`
}

// EssSpecs contains the storage limits of a preset
type EssSpecs struct {
	CapacityWh        int `json:"capacity_wh"`
	MaxChargePowerW   int `json:"max_charge_power_w"`
	MaxDischargePower int `json:"max_discharge_power_w"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInternalError  = -32603
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
