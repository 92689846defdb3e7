package models

import (
	"encoding/json"
	"time"
)

// TelemetryRequest is the body of POST /api/v1/telemetry.
type TelemetryRequest struct {
	Samples []TelemetrySample `json:"samples" binding:"required,dive"`
}

// TelemetrySample is one measured channel value, e.g. "_sum/EssSoc".
type TelemetrySample struct {
	Channel string    `json:"channel" binding:"required"`
	Time    time.Time `json:"time" binding:"required"`
	Value   *float64  `json:"value" binding:"required"`
}

// RecomputeRequest is the optional body of POST /api/v1/schedule/recompute.
type RecomputeRequest struct {
	Source string `json:"source,omitempty"` // default: "manual"
}

// JSONRPCRequest is a JSON-RPC 2.0 request, over HTTP or WebSocket.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}
