package controller

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangxiangong/yushi/internal/models"
	jsonrepo "github.com/tangxiangong/yushi/internal/repository/json"
)

func TestRegistryCreateAndList(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)

	first, err := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.State != models.TaskStateQueued {
		t.Errorf("new task state = %s, want %s", first.State, models.TaskStateQueued)
	}
	if first.ID == "" {
		t.Error("new task has empty id")
	}

	second, err := reg.Create("http://example.com/b.bin", filepath.Join(dir, "b.bin"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("list returned %d tasks, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Error("list is not in insertion order")
	}
}

func TestRegistryCreateInvalidDestination(t *testing.T) {
	reg := NewRegistry(nil)

	if _, err := reg.Create("http://example.com/a.bin", ""); !errors.Is(err, models.ErrInvalidDestination) {
		t.Errorf("empty dest: got %v, want ErrInvalidDestination", err)
	}

	dir := t.TempDir()
	if _, err := reg.Create("http://example.com/a.bin", dir); !errors.Is(err, models.ErrInvalidDestination) {
		t.Errorf("directory dest: got %v, want ErrInvalidDestination", err)
	}
}

func TestRegistryDuplicateDestination(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	dest := filepath.Join(dir, "a.bin")

	if _, err := reg.Create("http://example.com/a.bin", dest); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Create("http://example.com/other.bin", dest); !errors.Is(err, models.ErrDuplicateDestination) {
		t.Errorf("got %v, want ErrDuplicateDestination", err)
	}

	// A terminal task releases its destination.
	reg2 := NewRegistry(nil)
	task, err := reg2.Create("http://example.com/a.bin", dest)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg2.Start(task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg2.Complete(task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := reg2.Create("http://example.com/again.bin", dest); err != nil {
		t.Errorf("create after completion: %v", err)
	}
}

func TestRegistryTransitions(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	task, err := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := task.ID

	// Pausing a queued task is not a legal edge.
	if err := reg.Pause(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("pause queued: got %v, want ErrInvalidTransition", err)
	}

	if _, err := reg.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.Pause(id); err != nil {
		t.Fatalf("pause downloading: %v", err)
	}
	// Paused tasks cannot complete; they must go through the scheduler.
	if err := reg.Complete(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("complete paused: got %v, want ErrInvalidTransition", err)
	}
	if _, err := reg.Start(id); err != nil {
		t.Fatalf("restart paused: %v", err)
	}
	if err := reg.Fail(id, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := reg.Get(id)
	if got.Error != "boom" {
		t.Errorf("failed task error = %q, want %q", got.Error, "boom")
	}
	if err := reg.Retry(id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ = reg.Get(id)
	if got.State != models.TaskStateQueued || got.Error != "" {
		t.Errorf("retried task = %s/%q, want QUEUED with no error", got.State, got.Error)
	}

	if err := reg.Pause("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestRegistryProgressMonotonicAndFrozenWhilePaused(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	task, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	id := task.ID

	// Progress against a queued task is dropped.
	reg.SetProgress(id, 10, 100)
	if got, _ := reg.Get(id); got.BytesReceived != 0 {
		t.Errorf("queued task bytes = %d, want 0", got.BytesReceived)
	}

	reg.Start(id)
	reg.SetProgress(id, 10, 100)
	reg.SetProgress(id, 5, 100) // regression, dropped
	if got, _ := reg.Get(id); got.BytesReceived != 10 || got.TotalBytes != 100 {
		t.Errorf("after regression: bytes=%d total=%d, want 10/100", got.BytesReceived, got.TotalBytes)
	}

	reg.Pause(id)
	reg.SetProgress(id, 50, 100) // frozen while paused
	if got, _ := reg.Get(id); got.BytesReceived != 10 {
		t.Errorf("paused task bytes = %d, want frozen at 10", got.BytesReceived)
	}
}

func TestRegistryRemove(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	task, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	id := task.ID

	reg.Start(id)
	if err := reg.Remove(id); !errors.Is(err, models.ErrTaskBusy) {
		t.Errorf("remove downloading: got %v, want ErrTaskBusy", err)
	}
	reg.Pause(id)
	if err := reg.Remove(id); !errors.Is(err, models.ErrTaskBusy) {
		t.Errorf("remove paused: got %v, want ErrTaskBusy", err)
	}

	reg.Start(id)
	reg.Complete(id)
	if err := reg.Remove(id); err != nil {
		t.Fatalf("remove completed: %v", err)
	}
	if err := reg.Remove(id); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("remove twice: got %v, want ErrNotFound", err)
	}
}

func TestRegistryCancelRemovesTask(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	task, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))

	if _, err := reg.Cancel(task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Error("cancelled task still appears in List")
	}
	if _, err := reg.Get(task.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("get cancelled: got %v, want ErrNotFound", err)
	}
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := jsonrepo.NewStateStore(filepath.Join(dir, "tasks.json"))

	reg := NewRegistry(store)
	queued, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	active, _ := reg.Create("http://example.com/b.bin", filepath.Join(dir, "b.bin"))
	reg.Start(active.ID)
	reg.SetProgress(active.ID, 42, 100)
	// Transition persists the snapshot with the recorded offset.
	reg.Pause(active.ID)
	reg.Start(active.ID)

	// A fresh registry restores the snapshot; the task recorded as
	// DOWNLOADING comes back PAUSED because nothing is writing it anymore.
	restored := NewRegistry(store)
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	list := restored.List()
	if len(list) != 2 {
		t.Fatalf("restored %d tasks, want 2", len(list))
	}
	got, err := restored.Get(active.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if got.State != models.TaskStatePaused {
		t.Errorf("restored downloading task state = %s, want PAUSED", got.State)
	}
	if got.BytesReceived != 42 {
		t.Errorf("restored offset = %d, want 42", got.BytesReceived)
	}
	if q, _ := restored.Get(queued.ID); q.State != models.TaskStateQueued {
		t.Errorf("restored queued task state = %s, want QUEUED", q.State)
	}
}

func TestRegistryClearCompleted(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	done, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	kept, _ := reg.Create("http://example.com/b.bin", filepath.Join(dir, "b.bin"))
	reg.Start(done.ID)
	reg.Complete(done.ID)

	reg.ClearCompleted()
	list := reg.List()
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Errorf("after clear: %d tasks, want only the queued one", len(list))
	}
}

func TestRegistryPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	task, _ := reg.Create("http://example.com/a.bin", filepath.Join(dir, "a.bin"))
	reg.Start(task.ID)
	reg.SetProgress(task.ID, 64, 128)

	var states []models.TaskState
	var lastBytes int64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-reg.Events():
			if ev.TaskID != task.ID {
				t.Errorf("event for task %s, want %s", ev.TaskID, task.ID)
			}
			states = append(states, ev.State)
			lastBytes = ev.BytesReceived
		default:
			t.Fatalf("only %d events buffered, want 3", i)
		}
	}
	want := []models.TaskState{models.TaskStateQueued, models.TaskStateDownloading, models.TaskStateDownloading}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("event %d state = %s, want %s", i, states[i], s)
		}
	}
	if lastBytes != 64 {
		t.Errorf("last event bytes = %d, want 64", lastBytes)
	}
}

func TestRegistryCreateProbesDestination(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(nil)
	dest := filepath.Join(dir, "sub", "a.bin")

	if _, err := reg.Create("http://example.com/a.bin", dest); err != nil {
		t.Fatalf("create with missing parent dir: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("destination was not created: %v", err)
	}
}
