package storage

import (
	"testing"
	"time"

	"github.com/dohr-michael/magpie/internal/events"
)

func publishTaskEvent(bus *events.Bus, id, status string, recs int) {
	bus.Publish(events.NewTypedEventForTask(events.SourceManager, events.TaskPayload{
		TaskID:  id,
		Status:  status,
		Records: recs,
	}, id))
}

func TestStatsTrackerAccumulates(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	st, err := NewStatsTracker(t.TempDir(), bus)
	if err != nil {
		t.Fatalf("NewStatsTracker: %v", err)
	}
	defer st.Close()

	publishTaskEvent(bus, "task_1", "Created", 0)
	publishTaskEvent(bus, "task_1", "Completed", 5)
	publishTaskEvent(bus, "task_2", "Created", 0)
	publishTaskEvent(bus, "task_2", "Cancelled", 2)
	publishTaskEvent(bus, "task_3", "Created", 0)
	publishTaskEvent(bus, "task_3", "Failed", 0)
	publishTaskEvent(bus, "task_4", "Created", 0)
	publishTaskEvent(bus, "task_4", "Killed", 0)
	// transitions that are not counted
	publishTaskEvent(bus, "task_5", "Running", 0)
	publishTaskEvent(bus, "task_5", "Stopping", 0)

	time.Sleep(100 * time.Millisecond)

	got := st.Today()
	if got.Submitted != 4 {
		t.Errorf("submitted = %d, want 4", got.Submitted)
	}
	if got.Completed != 1 || got.Cancelled != 1 || got.Failed != 1 || got.Killed != 1 {
		t.Errorf("counters = %+v, want one of each outcome", got)
	}
	if got.Records != 7 {
		t.Errorf("records = %d, want 7 (5 completed + 2 partial)", got.Records)
	}
	if got.Date != time.Now().Format("2006-01-02") {
		t.Errorf("date = %q, want today", got.Date)
	}
}

func TestStatsTrackerPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	st, err := NewStatsTracker(dir, bus)
	if err != nil {
		t.Fatalf("NewStatsTracker: %v", err)
	}
	publishTaskEvent(bus, "task_1", "Created", 0)
	publishTaskEvent(bus, "task_1", "Completed", 3)
	time.Sleep(100 * time.Millisecond)
	st.Close()

	st2, err := NewStatsTracker(dir, bus)
	if err != nil {
		t.Fatalf("NewStatsTracker restart: %v", err)
	}
	defer st2.Close()

	got := st2.Today()
	if got.Submitted != 1 || got.Completed != 1 || got.Records != 3 {
		t.Errorf("restored counters = %+v, want submitted=1 completed=1 records=3", got)
	}
}

func TestStatsTrackerDay(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	st, err := NewStatsTracker(t.TempDir(), bus)
	if err != nil {
		t.Fatalf("NewStatsTracker: %v", err)
	}
	defer st.Close()

	publishTaskEvent(bus, "task_1", "Created", 0)
	time.Sleep(100 * time.Millisecond)

	today := time.Now().Format("2006-01-02")
	if got := st.Day(today); got.Submitted != 1 {
		t.Errorf("Day(today).Submitted = %d, want 1", got.Submitted)
	}
	if got := st.Day("2000-01-01"); got.Submitted != 0 || got.Date != "2000-01-01" {
		t.Errorf("Day(empty) = %+v, want zero counters for that date", got)
	}
}
