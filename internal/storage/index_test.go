package storage

import (
	"path/filepath"
	"testing"

	"github.com/dohr-michael/magpie/internal/tasks"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestIndexUpsertRecent(t *testing.T) {
	ix := openTestIndex(t)

	for _, id := range []string{"task_i1", "task_i2", "task_i3"} {
		if err := ix.Upsert(archivedTask(id, tasks.StatusCompleted, 1)); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	entries, err := ix.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(2) = %d entries, want 2", len(entries))
	}
	if entries[0].TaskID != "task_i3" || entries[1].TaskID != "task_i2" {
		t.Errorf("Recent order = %s, %s; want task_i3, task_i2", entries[0].TaskID, entries[1].TaskID)
	}
	if entries[0].Street != "KUTER" || entries[0].Number != 2835 {
		t.Errorf("entry = %+v, want street KUTER number 2835", entries[0])
	}
	if entries[0].FinishedAt == nil {
		t.Error("entry FinishedAt missing")
	}
}

func TestIndexUpsertReplaces(t *testing.T) {
	ix := openTestIndex(t)

	if err := ix.Upsert(archivedTask("task_r1", tasks.StatusCancelled, 1)); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := ix.Upsert(archivedTask("task_r1", tasks.StatusKilled, 0)); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	n, err := ix.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1 after re-upsert", n)
	}

	entries, err := ix.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if entries[0].Status != string(tasks.StatusKilled) {
		t.Errorf("status = %s, want %s", entries[0].Status, tasks.StatusKilled)
	}
	if entries[0].Records != 0 {
		t.Errorf("records = %d, want 0", entries[0].Records)
	}
}

func TestIndexByStreet(t *testing.T) {
	ix := openTestIndex(t)

	kuter := archivedTask("task_s1", tasks.StatusCompleted, 1)
	main := archivedTask("task_s2", tasks.StatusCompleted, 1)
	main.Input.Address.Street = "MAIN"
	for _, task := range []tasks.Task{kuter, main} {
		if err := ix.Upsert(task); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := ix.ByStreet("kut")
	if err != nil {
		t.Fatalf("ByStreet: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "task_s1" {
		t.Errorf("ByStreet(kut) = %+v, want task_s1 only", got)
	}

	none, err := ix.ByStreet("ELM")
	if err != nil {
		t.Fatalf("ByStreet: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ByStreet(ELM) = %d entries, want 0", len(none))
	}
}

func TestIndexDelete(t *testing.T) {
	ix := openTestIndex(t)

	if err := ix.Upsert(archivedTask("task_d1", tasks.StatusCompleted, 1)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Delete("task_d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	n, err := ix.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0 after Delete", n)
	}
}

func TestArchiveWithIndex(t *testing.T) {
	dir := t.TempDir()
	ix, err := OpenIndex(filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer ix.Close()

	a, err := NewArchive(filepath.Join(dir, "archive"), ix)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}

	if err := a.Save(archivedTask("task_ai1", tasks.StatusCompleted, 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := ix.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "task_ai1" || entries[0].Records != 2 {
		t.Errorf("index after Save = %+v, want one task_ai1 row with 2 records", entries)
	}
}
