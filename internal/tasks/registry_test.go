package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/dohr-michael/magpie/internal/records"
)

func addTask(t *testing.T, r *Registry, status Status) Task {
	t.Helper()
	return r.Add(Task{
		ID:        GenerateTaskID(),
		Status:    status,
		CreatedAt: time.Now(),
		Input:     records.Query{Address: records.Address{Number: 2835, Street: "KUTER"}},
	})
}

func TestRegistryAddGet(t *testing.T) {
	r := NewRegistry()
	added := addTask(t, r, StatusCreated)

	got, ok := r.Get(added.ID)
	if !ok {
		t.Fatalf("Get(%s) not found", added.ID)
	}
	if got.Status != StatusCreated {
		t.Errorf("status = %s, want %s", got.Status, StatusCreated)
	}
	if got.StatusCode != 202 {
		t.Errorf("status code = %d, want 202", got.StatusCode)
	}
	if got.Input.Address.Street != "KUTER" {
		t.Errorf("input street = %q, want KUTER", got.Input.Address.Street)
	}

	if _, ok := r.Get("task_missing"); ok {
		t.Error("Get on unknown id reported found")
	}
}

func TestRegistryLifecycleTransitions(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusCreated)

	got, ok := r.MarkPending(task.ID)
	if !ok || got.Status != StatusPending {
		t.Fatalf("MarkPending = (%s, %v), want (Pending, true)", got.Status, ok)
	}

	got, ok = r.MarkRunning(task.ID)
	if !ok || got.Status != StatusRunning {
		t.Fatalf("MarkRunning = (%s, %v), want (Running, true)", got.Status, ok)
	}
	if got.StartedAt == nil {
		t.Error("MarkRunning did not stamp StartedAt")
	}

	got, ok = r.FinalizeCompleted(task.ID, []records.Record{{Heading: "2835 KUTER AVE"}})
	if !ok || got.Status != StatusCompleted {
		t.Fatalf("FinalizeCompleted = (%s, %v), want (Completed, true)", got.Status, ok)
	}
	if got.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", got.StatusCode)
	}
	if got.FinishedAt == nil {
		t.Error("FinalizeCompleted did not stamp FinishedAt")
	}
	if len(got.Result) != 1 {
		t.Errorf("result length = %d, want 1", len(got.Result))
	}
}

func TestRegistryMarkRunningRequiresPending(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusCreated)

	if _, ok := r.MarkRunning(task.ID); ok {
		t.Error("MarkRunning succeeded on a Created task")
	}

	r.MarkPending(task.ID)
	r.MarkStopping(task.ID)
	if got, ok := r.MarkRunning(task.ID); ok {
		t.Errorf("MarkRunning reverted a Stopping task to %s", got.Status)
	}
}

func TestRegistryMarkStopping(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusCreated)
	r.MarkPending(task.ID)
	r.MarkRunning(task.ID)

	got, ok := r.MarkStopping(task.ID)
	if !ok || got.Status != StatusStopping {
		t.Fatalf("MarkStopping = (%s, %v), want (Stopping, true)", got.Status, ok)
	}
	if _, ok := r.MarkStopping(task.ID); ok {
		t.Error("MarkStopping succeeded twice")
	}

	r.FinalizeCancelled(task.ID, nil)
	if _, ok := r.MarkStopping(task.ID); ok {
		t.Error("MarkStopping succeeded on a terminal task")
	}
}

func TestRegistryFinalizeExactlyOnce(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusRunning)

	if _, ok := r.FinalizeCompleted(task.ID, nil); !ok {
		t.Fatal("first finalize refused")
	}
	if _, ok := r.FinalizeFailed(task.ID, Errorf(KindInternal, "late")); ok {
		t.Error("FinalizeFailed overwrote a terminal task")
	}
	if _, ok := r.FinalizeCancelled(task.ID, nil); ok {
		t.Error("FinalizeCancelled overwrote a terminal task")
	}
	if _, ok := r.FinalizeKilled(task.ID); ok {
		t.Error("FinalizeKilled overwrote a terminal task")
	}

	got, _ := r.Get(task.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, StatusCompleted)
	}
}

func TestRegistryFinalizeCompletedNormalizesResult(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusRunning)

	got, _ := r.FinalizeCompleted(task.ID, nil)
	if got.Result == nil {
		t.Error("completed task has nil result, want empty slice")
	}
	if len(got.Result) != 0 {
		t.Errorf("result length = %d, want 0", len(got.Result))
	}
}

func TestRegistryFinalizeCancelledKeepsPartial(t *testing.T) {
	r := NewRegistry()

	queued := addTask(t, r, StatusPending)
	got, _ := r.FinalizeCancelled(queued.ID, nil)
	if got.Result != nil {
		t.Error("cancelled-before-start task has a result")
	}
	if got.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", got.StatusCode)
	}

	running := addTask(t, r, StatusStopping)
	partial := []records.Record{{Heading: "first hit"}}
	got, _ = r.FinalizeCancelled(running.ID, partial)
	if len(got.Result) != 1 {
		t.Errorf("partial result length = %d, want 1", len(got.Result))
	}
}

func TestRegistryFinalizeKilledTouchesNothing(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusRunning)

	got, ok := r.FinalizeKilled(task.ID)
	if !ok || got.Status != StatusKilled {
		t.Fatalf("FinalizeKilled = (%s, %v), want (Killed, true)", got.Status, ok)
	}
	if got.Result != nil {
		t.Error("killed task gained a result")
	}
	if got.Error != nil {
		t.Error("killed task gained an error")
	}
	if got.FinishedAt == nil {
		t.Error("killed task missing FinishedAt")
	}
	if got.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", got.StatusCode)
	}
}

func TestRegistryFailedStatusCode(t *testing.T) {
	r := NewRegistry()
	task := addTask(t, r, StatusRunning)

	got, _ := r.FinalizeFailed(task.ID, Errorf(KindExternalFailure, "search failed"))
	if got.StatusCode != 500 {
		t.Errorf("status code = %d, want 500", got.StatusCode)
	}
	if got.Error == nil || got.Error.Kind != KindExternalFailure {
		t.Errorf("error = %+v, want kind %s", got.Error, KindExternalFailure)
	}
}

func TestRegistryListSortsAndFilters(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	for i, st := range []Status{StatusCompleted, StatusPending, StatusRunning} {
		r.Add(Task{
			ID:        GenerateTaskID(),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	all := r.List()
	if len(all) != 3 {
		t.Fatalf("List() length = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatal("List() not sorted oldest first")
		}
	}

	pending := r.List(StatusPending)
	if len(pending) != 1 || pending[0].Status != StatusPending {
		t.Errorf("List(Pending) = %+v, want one pending task", pending)
	}

	live := r.List(StatusPending, StatusRunning)
	if len(live) != 2 {
		t.Errorf("List(Pending, Running) length = %d, want 2", len(live))
	}
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry()

	if err := r.Evict("task_missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Evict unknown = %v, want ErrTaskNotFound", err)
	}

	live := addTask(t, r, StatusRunning)
	if err := r.Evict(live.ID); !errors.Is(err, ErrTaskNotTerminal) {
		t.Errorf("Evict live = %v, want ErrTaskNotTerminal", err)
	}

	done := addTask(t, r, StatusCompleted)
	if err := r.Evict(done.ID); err != nil {
		t.Fatalf("Evict terminal: %v", err)
	}
	if _, ok := r.Get(done.ID); ok {
		t.Error("evicted task still present")
	}
}

func TestRegistryCountByStatus(t *testing.T) {
	r := NewRegistry()
	addTask(t, r, StatusPending)
	addTask(t, r, StatusPending)
	addTask(t, r, StatusCompleted)

	if n := r.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	counts := r.CountByStatus()
	if counts[StatusPending] != 2 || counts[StatusCompleted] != 1 {
		t.Errorf("CountByStatus = %v", counts)
	}
}
