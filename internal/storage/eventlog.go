package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dohr-michael/magpie/internal/events"
)

// EventLog persists bus events to a single JSONL file.
type EventLog struct {
	path        string
	unsubscribe func()
}

// NewEventLog creates an EventLog that subscribes to all bus events and
// appends them to path, one JSON object per line.
func NewEventLog(path string, bus *events.Bus) *EventLog {
	el := &EventLog{path: path}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLog) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLog) handleEvent(e events.Event) {
	// Periodic pool snapshots are noise at rest; the stats store keeps them.
	if e.Type == events.EventPoolStats {
		return
	}
	_ = el.writeEvent(e)
}

func (el *EventLog) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(el.path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(el.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}
