// Package storage persists what the in-memory registry cannot afford to
// lose: archived terminal tasks, the event log, daily scrape counters, and
// the optional NATS bridge.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/storage/dirstore"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// Archive persists terminal task snapshots, one directory per task holding
// meta.json (the task without its records) and records.json.
type Archive struct {
	store *dirstore.DirStore
	index *Index
}

// NewArchive creates the archive rooted at dir. index may be nil.
func NewArchive(dir string, index *Index) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{store: dirstore.NewDirStore(dir, "task"), index: index}, nil
}

// Save archives a terminal task. Saving the same task again overwrites,
// so late kill finalizations converge on the last write.
func (a *Archive) Save(t tasks.Task) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("task %s is %s, only terminal tasks are archived", t.ID, t.Status)
	}

	a.store.Lock()
	defer a.store.Unlock()

	if err := a.store.EnsureDir(t.ID); err != nil {
		return err
	}

	recs := t.Result
	if recs == nil {
		recs = []records.Record{}
	}
	meta := t
	meta.Result = nil
	if err := a.store.WriteMeta(t.ID, meta); err != nil {
		return err
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if err := a.store.WriteFileAtomic(t.ID, "records.json", data); err != nil {
		return err
	}

	if a.index != nil {
		if err := a.index.Upsert(t); err != nil {
			return fmt.Errorf("index archived task: %w", err)
		}
	}
	return nil
}

// Load reads one archived task back, records included.
func (a *Archive) Load(id string) (tasks.Task, error) {
	a.store.RLock()
	defer a.store.RUnlock()

	var t tasks.Task
	if err := a.store.ReadMeta(id, &t); err != nil {
		return tasks.Task{}, err
	}
	data, err := a.store.ReadFileContent(id, "records.json")
	if err != nil {
		return tasks.Task{}, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &t.Result); err != nil {
			return tasks.Task{}, fmt.Errorf("unmarshal records: %w", err)
		}
	}
	return t, nil
}

// Has reports whether a task is archived.
func (a *Archive) Has(id string) bool {
	a.store.RLock()
	defer a.store.RUnlock()
	return a.store.Exists(id)
}

// List returns archived task IDs.
func (a *Archive) List() ([]string, error) {
	a.store.RLock()
	defer a.store.RUnlock()
	return a.store.ListDirs()
}

// Remove deletes one archived task directory.
func (a *Archive) Remove(id string) error {
	a.store.Lock()
	defer a.store.Unlock()
	return a.store.RemoveDir(id)
}

// WatchBus archives tasks as they reach a terminal status. lookup resolves
// the full snapshot from the live registry, since bus payloads only carry
// counts. Returns an unsubscribe func.
func (a *Archive) WatchBus(bus *events.Bus, lookup func(id string) (tasks.Task, bool)) func() {
	return bus.Subscribe(func(e events.Event) {
		if e.TaskID == "" {
			return
		}
		t, ok := lookup(e.TaskID)
		if !ok {
			return
		}
		if err := a.Save(t); err != nil {
			slog.Error("archive task", "task", e.TaskID, "error", err)
		}
	}, events.EventTaskCompleted, events.EventTaskFailed, events.EventTaskCancelled, events.EventTaskKilled)
}
