package tasks

import (
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/magpie/internal/records"
)

// Registry is the in-memory authority on task metadata. Reads return
// copies; transitions go through guarded mutators so terminal states are
// written exactly once and never overwritten.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Add registers a new task record and returns its snapshot.
func (r *Registry) Add(t Task) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.StatusCode = t.Status.HTTPCode()
	cp := t
	r.tasks[t.ID] = &cp
	return t
}

// Get returns a snapshot of one task.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns snapshots of all tasks, oldest first. With statuses given,
// only matching tasks are returned.
func (r *Registry) List(statuses ...Status) []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if len(statuses) > 0 && !statusIn(t.Status, statuses) {
			continue
		}
		out = append(out, *t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// Count returns the number of tracked tasks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// CountByStatus returns task counts keyed by status.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// MarkPending moves a Created task to Pending.
func (r *Registry) MarkPending(id string) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status != StatusCreated {
			return false
		}
		t.Status = StatusPending
		return true
	})
}

// MarkRunning moves a Pending task to Running and stamps StartedAt. A task
// already flagged Stopping keeps its state; the cancel signal wins.
func (r *Registry) MarkRunning(id string) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status != StatusPending {
			return false
		}
		now := time.Now()
		t.Status = StatusRunning
		t.StartedAt = &now
		return true
	})
}

// MarkStopping flags a live task as stopping. Terminal and already-stopping
// tasks are left alone.
func (r *Registry) MarkStopping(id string) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status.Terminal() || t.Status == StatusStopping {
			return false
		}
		t.Status = StatusStopping
		return true
	})
}

// FinalizeCompleted ends a live task with its scraped records. The result
// is never nil on a completed task, even when empty.
func (r *Registry) FinalizeCompleted(id string, result []records.Record) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		if result == nil {
			result = []records.Record{}
		}
		now := time.Now()
		t.Status = StatusCompleted
		t.Result = result
		t.FinishedAt = &now
		return true
	})
}

// FinalizeFailed ends a live task with an error.
func (r *Registry) FinalizeFailed(id string, taskErr *TaskError) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		now := time.Now()
		t.Status = StatusFailed
		t.Error = taskErr
		t.FinishedAt = &now
		return true
	})
}

// FinalizeCancelled ends a live task as cancelled. partial carries whatever
// was scraped before the signal was observed; it stays nil for tasks that
// never ran.
func (r *Registry) FinalizeCancelled(id string, partial []records.Record) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		now := time.Now()
		t.Status = StatusCancelled
		t.Result = partial
		t.FinishedAt = &now
		return true
	})
}

// FinalizeKilled ends a live task as killed: timestamp only, result and
// error untouched.
func (r *Registry) FinalizeKilled(id string) (Task, bool) {
	return r.transition(id, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		now := time.Now()
		t.Status = StatusKilled
		t.FinishedAt = &now
		return true
	})
}

// transition applies fn under the write lock, refreshes the mirrored status
// code on change, and returns the post-mutation snapshot.
func (r *Registry) transition(id string, fn func(*Task) bool) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	changed := fn(t)
	if changed {
		t.StatusCode = t.Status.HTTPCode()
	}
	return *t, changed
}

// Evict removes a terminal task from the registry.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !t.Status.Terminal() {
		return ErrTaskNotTerminal
	}
	delete(r.tasks, id)
	return nil
}
