// Package api provides an HTTP client for the magpie gateway REST surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dohr-michael/magpie/internal/drivers"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/storage"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// Client talks to a running magpie gateway.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the gateway at base, e.g. "http://127.0.0.1:18420".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health is the gateway health report.
type Health struct {
	Health     string        `json:"health"`
	DriverPool drivers.Stats `json:"driver_pool"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// decodeMetadata unwraps a {"metadata": ...} envelope, falling back to the
// {"error": ...} shape the gateway uses for rejections.
func decodeMetadata(data []byte, code int) (tasks.Task, error) {
	var body struct {
		Metadata *tasks.Task `json:"metadata"`
		Error    string      `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return tasks.Task{}, fmt.Errorf("decode response (%d): %w", code, err)
	}
	if body.Metadata == nil {
		if body.Error != "" {
			return tasks.Task{}, fmt.Errorf("gateway error (%d): %s", code, body.Error)
		}
		return tasks.Task{}, fmt.Errorf("gateway returned no metadata (%d)", code)
	}
	return *body.Metadata, nil
}

// Submit posts a scrape query and returns the created task metadata.
func (c *Client) Submit(ctx context.Context, q records.Query) (tasks.Task, error) {
	data, code, err := c.do(ctx, http.MethodPost, "/scrape", q)
	if err != nil {
		return tasks.Task{}, err
	}
	return decodeMetadata(data, code)
}

// Status fetches the current metadata snapshot of a task.
func (c *Client) Status(ctx context.Context, id string) (tasks.Task, error) {
	data, code, err := c.do(ctx, http.MethodGet, "/task/"+id+"/status", nil)
	if err != nil {
		return tasks.Task{}, err
	}
	return decodeMetadata(data, code)
}

// Result fetches a task's final metadata. The second return reports whether
// the task has finished; a live task comes back with ready=false and only
// its id and status filled in.
func (c *Client) Result(ctx context.Context, id string) (tasks.Task, bool, error) {
	data, code, err := c.do(ctx, http.MethodGet, "/task/"+id+"/result", nil)
	if err != nil {
		return tasks.Task{}, false, err
	}
	if code == http.StatusAccepted {
		var pending struct {
			TaskID string       `json:"task_id"`
			Status tasks.Status `json:"status"`
		}
		if err := json.Unmarshal(data, &pending); err != nil {
			return tasks.Task{}, false, fmt.Errorf("decode pending response: %w", err)
		}
		return tasks.Task{ID: pending.TaskID, Status: pending.Status}, false, nil
	}
	t, err := decodeMetadata(data, code)
	if err != nil {
		return tasks.Task{}, false, err
	}
	return t, true, nil
}

// Cancel requests cooperative cancellation and returns the task metadata.
func (c *Client) Cancel(ctx context.Context, id string) (tasks.Task, error) {
	data, code, err := c.do(ctx, http.MethodPost, "/task/"+id+"/cancel", nil)
	if err != nil {
		return tasks.Task{}, err
	}
	return decodeMetadata(data, code)
}

// Kill requests immediate detachment and returns the task metadata.
func (c *Client) Kill(ctx context.Context, id string) (tasks.Task, error) {
	data, code, err := c.do(ctx, http.MethodPost, "/task/"+id+"/kill", nil)
	if err != nil {
		return tasks.Task{}, err
	}
	return decodeMetadata(data, code)
}

// List fetches all tracked tasks, optionally filtered by status name.
func (c *Client) List(ctx context.Context, statuses ...string) ([]tasks.Task, error) {
	path := "/tasks"
	if len(statuses) > 0 {
		path += "?status=" + strings.Join(statuses, ",")
	}
	data, code, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []tasks.Task `json:"tasks"`
		Error string       `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode task list (%d): %w", code, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("gateway error (%d): %s", code, body.Error)
	}
	return body.Tasks, nil
}

// Health fetches the gateway health report. A report is returned even when
// the gateway answers unhealthy.
func (c *Client) Health(ctx context.Context) (Health, error) {
	data, _, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// Stats fetches the daily counters, today's unless day (YYYY-MM-DD) is set.
func (c *Client) Stats(ctx context.Context, day string) (storage.DailyStats, error) {
	path := "/stats"
	if day != "" {
		path += "?day=" + day
	}
	data, code, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return storage.DailyStats{}, err
	}
	var ds storage.DailyStats
	if err := json.Unmarshal(data, &ds); err != nil {
		return storage.DailyStats{}, fmt.Errorf("decode stats (%d): %w", code, err)
	}
	return ds, nil
}

// Archive lists archived tasks, newest first, optionally filtered by a
// street substring.
func (c *Client) Archive(ctx context.Context, street string, limit int) ([]storage.IndexEntry, error) {
	path := "/archive"
	switch {
	case street != "":
		path += "?street=" + url.QueryEscape(street)
	case limit > 0:
		path += fmt.Sprintf("?limit=%d", limit)
	}
	data, code, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Entries []storage.IndexEntry `json:"entries"`
		Error   string               `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode archive list (%d): %w", code, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("gateway error (%d): %s", code, body.Error)
	}
	return body.Entries, nil
}

// ArchivedTask fetches one archived task with its full record set.
func (c *Client) ArchivedTask(ctx context.Context, id string) (tasks.Task, error) {
	data, code, err := c.do(ctx, http.MethodGet, "/archive/"+id, nil)
	if err != nil {
		return tasks.Task{}, err
	}
	return decodeMetadata(data, code)
}
