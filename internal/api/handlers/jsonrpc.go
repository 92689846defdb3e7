package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/query"
)

// RPC answers the JSON-RPC methods shared by the HTTP and WebSocket
// endpoints.
type RPC struct {
	query   *query.Service
	trigger Recomputer
	now     func() time.Time
	log     zerolog.Logger
}

func NewRPC(q *query.Service, trigger Recomputer, logger zerolog.Logger) *RPC {
	return &RPC{
		query:   q,
		trigger: trigger,
		now:     time.Now,
		log:     logger.With().Str("handler", "jsonrpc").Logger(),
	}
}

// Dispatch runs one request. It never returns a transport error; failures
// are JSON-RPC error objects.
func (r *RPC) Dispatch(ctx context.Context, req models.JSONRPCRequest) models.JSONRPCResponse {
	resp := models.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &models.JSONRPCError{Code: models.RPCInvalidRequest, Message: "invalid request"}
		return resp
	}
	switch req.Method {
	case "getSchedule":
		resp.Result = r.query.GetScheduleView(ctx, r.now())
	case "recompute":
		resp.Result = models.RecomputeResponse{Queued: r.trigger.Request("jsonrpc"), Running: r.trigger.Running()}
	default:
		resp.Error = &models.JSONRPCError{Code: models.RPCMethodNotFound, Message: "method not found: " + req.Method}
	}
	return resp
}

// Notification builds a server-initiated getSchedule push.
func (r *RPC) Notification(ctx context.Context) models.JSONRPCResponse {
	id, _ := json.Marshal(uuid.NewString())
	return models.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  r.query.GetScheduleView(ctx, r.now()),
	}
}

// Handle handles POST /jsonrpc
func (r *RPC) Handle(c *gin.Context) {
	var req models.JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, models.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &models.JSONRPCError{Code: models.RPCParseError, Message: err.Error()},
		})
		return
	}
	r.log.Debug().Str("method", req.Method).Msg("jsonrpc request")
	c.JSON(http.StatusOK, r.Dispatch(c.Request.Context(), req))
}
