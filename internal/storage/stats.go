package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dohr-michael/magpie/internal/events"
)

// DailyStats are one day's scrape counters.
type DailyStats struct {
	Date      string `json:"date"`
	Submitted int    `json:"submitted"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
	Killed    int    `json:"killed"`
	Records   int    `json:"records_scraped"`
}

// StatsTracker subscribes to task transition events and accumulates daily
// counters, persisted to one JSON file per day.
type StatsTracker struct {
	mu          sync.Mutex
	dir         string
	today       DailyStats
	unsubscribe func()
}

// NewStatsTracker loads today's counters from dir and starts listening for
// task transitions.
func NewStatsTracker(dir string, bus *events.Bus) (*StatsTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	st := &StatsTracker{dir: dir}
	st.today = st.load(dateKey(time.Now()))
	st.unsubscribe = bus.Subscribe(st.handleEvent,
		events.EventTaskCreated,
		events.EventTaskCompleted,
		events.EventTaskFailed,
		events.EventTaskCancelled,
		events.EventTaskKilled,
	)
	return st, nil
}

// Close unsubscribes the tracker from the event bus.
func (st *StatsTracker) Close() {
	if st.unsubscribe != nil {
		st.unsubscribe()
	}
}

// Today returns a snapshot of today's counters.
func (st *StatsTracker) Today() DailyStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rollover(time.Now())
	return st.today
}

// Day returns the persisted counters for a YYYY-MM-DD key.
func (st *StatsTracker) Day(key string) DailyStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	if key == st.today.Date {
		return st.today
	}
	return st.load(key)
}

func (st *StatsTracker) handleEvent(e events.Event) {
	payload, ok := events.GetTaskPayload(e)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.rollover(time.Now())

	switch e.Type {
	case events.EventTaskCreated:
		st.today.Submitted++
	case events.EventTaskCompleted:
		st.today.Completed++
		st.today.Records += payload.Records
	case events.EventTaskFailed:
		st.today.Failed++
	case events.EventTaskCancelled:
		st.today.Cancelled++
		st.today.Records += payload.Records
	case events.EventTaskKilled:
		st.today.Killed++
	}
	st.persist()
}

// rollover swaps in a fresh counter set at midnight. Caller must hold st.mu.
func (st *StatsTracker) rollover(now time.Time) {
	key := dateKey(now)
	if key != st.today.Date {
		st.today = st.load(key)
	}
}

// persist writes today's counters via tmp + rename. Caller must hold st.mu.
func (st *StatsTracker) persist() {
	data, err := json.MarshalIndent(st.today, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(st.dir, st.today.Date+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Debug("stats write", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Debug("stats rename", "path", path, "error", err)
	}
}

func (st *StatsTracker) load(key string) DailyStats {
	stats := DailyStats{Date: key}
	data, err := os.ReadFile(filepath.Join(st.dir, key+".json"))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return DailyStats{Date: key}
	}
	stats.Date = key
	return stats
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
