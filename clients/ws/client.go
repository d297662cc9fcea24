// Package ws provides a WebSocket client for the magpie gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/magpie/internal/gateway/ws"
	"github.com/dohr-michael/magpie/internal/records"
)

// Client is a WebSocket client for the magpie gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// request writes one request frame. Responses arrive interleaved with
// events on ReadFrame.
func (c *Client) request(method wsprotocol.Method, params any) error {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = data
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
		Params: raw,
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return err
	}

	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SubmitTask submits a scrape query to the gateway.
func (c *Client) SubmitTask(q records.Query) error {
	return c.request(wsprotocol.MethodSubmitTask, q)
}

// GetTask requests the current metadata snapshot of one task.
func (c *Client) GetTask(taskID string) error {
	return c.request(wsprotocol.MethodGetTask, map[string]string{"task_id": taskID})
}

// CancelTask asks the gateway to cancel a task cooperatively.
func (c *Client) CancelTask(taskID string) error {
	return c.request(wsprotocol.MethodCancelTask, map[string]string{"task_id": taskID})
}

// KillTask asks the gateway to kill a task immediately.
func (c *Client) KillTask(taskID string) error {
	return c.request(wsprotocol.MethodKillTask, map[string]string{"task_id": taskID})
}

// ListTasks requests the current task list, optionally filtered by status.
func (c *Client) ListTasks(statuses ...string) error {
	if len(statuses) == 0 {
		return c.request(wsprotocol.MethodListTasks, nil)
	}
	return c.request(wsprotocol.MethodListTasks, map[string]any{"statuses": statuses})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
