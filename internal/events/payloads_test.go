package events

import (
	"testing"
)

func TestTaskPayloadEventType(t *testing.T) {
	cases := []struct {
		status string
		want   EventType
	}{
		{"Created", EventTaskCreated},
		{"Pending", EventTaskPending},
		{"Running", EventTaskRunning},
		{"Stopping", EventTaskStopping},
		{"Completed", EventTaskCompleted},
		{"Failed", EventTaskFailed},
		{"Cancelled", EventTaskCancelled},
		{"Killed", EventTaskKilled},
	}

	for _, tc := range cases {
		p := TaskPayload{TaskID: "task_1", Status: tc.status}
		if got := p.EventType(); got != tc.want {
			t.Errorf("status %s: got %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestDriverPayloadEventType(t *testing.T) {
	p := DriverPayload{Op: DriverOpCheckout, DriverID: "drv_1", TaskID: "task_1"}
	if got := p.EventType(); got != EventDriverCheckout {
		t.Errorf("got %s, want %s", got, EventDriverCheckout)
	}
}

func TestTypedEventForTask(t *testing.T) {
	evt := NewTypedEventForTask(SourceManager, TaskPayload{
		TaskID:     "task_abc",
		Status:     "Completed",
		StatusCode: 200,
		Records:    3,
	}, "task_abc")

	if evt.Type != EventTaskCompleted {
		t.Fatalf("type: got %s, want %s", evt.Type, EventTaskCompleted)
	}
	if evt.TaskID != "task_abc" {
		t.Errorf("task id: got %s", evt.TaskID)
	}
	if evt.ID == "" {
		t.Error("event id should be generated")
	}

	p, ok := GetTaskPayload(evt)
	if !ok {
		t.Fatal("extract payload failed")
	}
	if p.Records != 3 || p.Status != "Completed" {
		t.Errorf("payload: got %+v", p)
	}
}

func TestExtractPayloadMismatch(t *testing.T) {
	evt := NewTypedEvent(SourcePool, DriverPayload{Op: DriverOpCreated, DriverID: "drv_1"})

	// Extracting into the wrong type still succeeds structurally but leaves
	// zero values; callers are expected to route on evt.Type first.
	p, ok := GetPoolStatsPayload(evt)
	if !ok {
		t.Fatal("extract returned false")
	}
	if p.Capacity != 0 {
		t.Errorf("unexpected capacity %d", p.Capacity)
	}
}
