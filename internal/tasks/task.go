// Package tasks implements the scrape task lifecycle: metadata, the
// registry holding every task, and the manager scheduling tasks onto pooled
// browser drivers.
package tasks

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/magpie/internal/records"
)

// Status is the lifecycle state of a scrape task.
type Status string

const (
	StatusCreated   Status = "Created"  // registered, not yet admitted
	StatusPending   Status = "Pending"  // admitted, waiting for a driver
	StatusRunning   Status = "Running"  // scraping on a checked-out driver
	StatusStopping  Status = "Stopping" // cancel requested, signal not yet observed
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusKilled    Status = "Killed"
)

// Terminal reports whether s is a final state. Terminal task records are
// immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusKilled:
		return true
	}
	return false
}

// HTTPCode maps the state to the HTTP-style code mirrored in metadata:
// 202 while the task is live, 200 for terminal states, 500 for failures.
func (s Status) HTTPCode() int {
	switch s {
	case StatusCompleted, StatusCancelled, StatusKilled:
		return http.StatusOK
	case StatusFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusAccepted
	}
}

// ParseStatus resolves a status name case-insensitively. The second return
// is false for names outside the lifecycle.
func ParseStatus(name string) (Status, bool) {
	for _, s := range []Status{
		StatusCreated, StatusPending, StatusRunning, StatusStopping,
		StatusCompleted, StatusFailed, StatusCancelled, StatusKilled,
	} {
		if strings.EqualFold(name, string(s)) {
			return s, true
		}
	}
	return "", false
}

// Task is the metadata record of one scrape task. The registry owns the
// canonical record and hands out copies; once terminal, the record never
// changes again.
type Task struct {
	ID         string           `json:"id"`
	Status     Status           `json:"status"`
	StatusCode int              `json:"status_code"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Input      records.Query    `json:"input"`
	Result     []records.Record `json:"result,omitempty"`
	Error      *TaskError       `json:"error,omitempty"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
