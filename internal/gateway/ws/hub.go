package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// TaskAPI is the slice of the task manager the WebSocket layer needs.
type TaskAPI interface {
	Submit(q records.Query) (tasks.Task, error)
	GetStatus(id string) (tasks.Task, error)
	Cancel(id string) (tasks.Task, error)
	Kill(id string) (tasks.Task, error)
	List(statuses ...tasks.Status) []tasks.Task
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	manager     TaskAPI
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus, manager TaskAPI) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		manager: manager,
	}

	// Subscribe to all events and bridge to WS clients
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.TaskID, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(data)
	})

	return h
}

// broadcast sends data to all connected clients.
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	if c.hub.manager == nil {
		c.sendError(ctx, frame.ID, "task manager unavailable")
		return
	}

	switch Method(frame.Method) {
	case MethodSubmitTask:
		var q records.Query
		if err := json.Unmarshal(frame.Params, &q); err != nil {
			c.sendError(ctx, frame.ID, "invalid params: "+err.Error())
			return
		}
		if err := q.Validate(); err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		t, err := c.hub.manager.Submit(q)
		if err != nil {
			c.sendError(ctx, frame.ID, err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, t)

	case MethodGetTask:
		c.sendTaskOp(ctx, frame, c.hub.manager.GetStatus)

	case MethodCancelTask:
		c.sendTaskOp(ctx, frame, c.hub.manager.Cancel)

	case MethodKillTask:
		c.sendTaskOp(ctx, frame, c.hub.manager.Kill)

	case MethodListTasks:
		var params struct {
			Statuses []tasks.Status `json:"statuses"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params: "+err.Error())
				return
			}
		}
		c.sendOK(ctx, frame.ID, c.hub.manager.List(params.Statuses...))

	default:
		c.sendError(ctx, frame.ID, "unknown method: "+frame.Method)
	}
}

// sendTaskOp runs a task-id operation and replies with the task snapshot.
func (c *Client) sendTaskOp(ctx context.Context, frame Frame, op func(string) (tasks.Task, error)) {
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil || params.TaskID == "" {
		c.sendError(ctx, frame.ID, "invalid params: task_id required")
		return
	}
	t, err := op(params.TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			c.sendError(ctx, frame.ID, "task not found: "+params.TaskID)
			return
		}
		c.sendError(ctx, frame.ID, err.Error())
		return
	}
	c.sendOK(ctx, frame.ID, t)
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
