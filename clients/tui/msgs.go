package tui

import (
	"time"

	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// TaskEventMsg carries one task lifecycle transition from the WS stream.
type TaskEventMsg struct {
	Type    events.EventType
	Payload events.TaskPayload
}

// TaskEvictedMsg signals a terminal task dropped from the registry.
type TaskEvictedMsg struct {
	TaskID string
}

// PoolStatsMsg carries a driver pool occupancy snapshot.
type PoolStatsMsg struct {
	Payload events.PoolStatsPayload
}

// SweepMsg carries the summary of a maintenance sweep.
type SweepMsg struct {
	Payload events.SweepPayload
}

// TasksLoadedMsg carries a full task list fetched over HTTP.
type TasksLoadedMsg struct {
	Tasks []tasks.Task
}

// DisconnectedMsg signals a lost WS connection.
type DisconnectedMsg struct {
	Err error
}

// actionResultMsg carries the outcome of an async cancel/kill request.
type actionResultMsg struct {
	verb string
	task tasks.Task
	err  error
}

// fetchErrorMsg carries an error from an async HTTP fetch.
type fetchErrorMsg struct {
	err error
}

// tickMsg drives the periodic task list refresh.
type tickMsg time.Time
