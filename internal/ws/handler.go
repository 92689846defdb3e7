package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"battery-scheduler/internal/api/models"
	"battery-scheduler/internal/schedule"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dispatcher answers JSON-RPC requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.JSONRPCRequest) models.JSONRPCResponse
	Notification(ctx context.Context) models.JSONRPCResponse
}

// Handler serves JSON-RPC over WebSocket and pushes every newly published
// schedule to all clients.
type Handler struct {
	hub *Hub
	rpc Dispatcher
}

func NewHandler(hub *Hub, rpc Dispatcher) *Handler {
	return &Handler{hub: hub, rpc: rpc}
}

// Attach pushes a getSchedule result to every client on each publish.
func (h *Handler) Attach(store *schedule.Store) {
	store.OnPublish(func(*schedule.Snapshot) {
		go h.Push(context.Background())
	})
}

// Push broadcasts the current schedule view.
func (h *Handler) Push(ctx context.Context) {
	if h.hub.ClientCount() == 0 {
		return
	}
	msg, err := json.Marshal(h.rpc.Notification(ctx))
	if err != nil {
		h.hub.log.Error().Err(err).Msg("encode schedule push")
		return
	}
	h.hub.Broadcast(msg)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}
	h.hub.Register(client)
	go client.writePump()

	h.readPump(r.Context(), client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.hub.log.Warn().Err(err).Msg("websocket read")
			}
			return
		}

		var resp models.JSONRPCResponse
		var req models.JSONRPCRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			resp = models.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &models.JSONRPCError{Code: models.RPCParseError, Message: err.Error()},
			}
		} else {
			resp = h.rpc.Dispatch(ctx, req)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			h.hub.log.Error().Err(err).Msg("encode jsonrpc response")
			continue
		}
		h.hub.trySend(c, out)
	}
}
