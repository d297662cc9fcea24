package events

import (
	"encoding/json"
	"strings"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

// TaskPayload describes a task status transition. The event type is derived
// from the status so subscribers can filter on a single transition.
type TaskPayload struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Street     string `json:"street,omitempty"`
	Records    int    `json:"records,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ErrorMsg   string `json:"error_message,omitempty"`
}

func (p TaskPayload) EventType() EventType {
	return EventType("task." + strings.ToLower(p.Status))
}

// TaskEvictedPayload marks a terminal task removed from the registry.
type TaskEvictedPayload struct {
	TaskID string `json:"task_id"`
}

func (TaskEvictedPayload) EventType() EventType { return EventTaskEvicted }

// =============================================================================
// DRIVER POOL EVENTS
// =============================================================================

type DriverOp string

const (
	DriverOpCreated   DriverOp = "created"
	DriverOpCheckout  DriverOp = "checkout"
	DriverOpReturned  DriverOp = "returned"
	DriverOpKilled    DriverOp = "killed"
	DriverOpDestroyed DriverOp = "destroyed"
)

// DriverPayload describes a pool operation on one driver.
type DriverPayload struct {
	Op       DriverOp `json:"op"`
	DriverID string   `json:"driver_id"`
	TaskID   string   `json:"task_id,omitempty"`
	Searches int      `json:"searches,omitempty"`
}

func (p DriverPayload) EventType() EventType {
	return EventType("driver." + string(p.Op))
}

// =============================================================================
// MAINTENANCE EVENTS
// =============================================================================

// PoolStatsPayload is a periodic snapshot of pool occupancy.
type PoolStatsPayload struct {
	Capacity int `json:"capacity"`
	Idle     int `json:"idle"`
	Active   int `json:"active"`
}

func (PoolStatsPayload) EventType() EventType { return EventPoolStats }

// SweepPayload summarizes one maintenance pass.
type SweepPayload struct {
	TrashPruned  int           `json:"trash_pruned"`
	RoguesKilled int           `json:"rogues_killed"`
	TasksEvicted int           `json:"tasks_evicted"`
	Duration     time.Duration `json:"duration"`
}

func (SweepPayload) EventType() EventType { return EventSweep }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	return Event{
		ID:        generateEventID(),
		TaskID:    taskID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTaskPayload(e Event) (TaskPayload, bool) {
	return ExtractPayload[TaskPayload](e)
}

func GetDriverPayload(e Event) (DriverPayload, bool) {
	return ExtractPayload[DriverPayload](e)
}

func GetPoolStatsPayload(e Event) (PoolStatsPayload, bool) {
	return ExtractPayload[PoolStatsPayload](e)
}
