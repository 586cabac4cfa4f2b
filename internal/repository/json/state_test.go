package json

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tangxiangong/yushi/internal/models"
)

func TestStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store := NewStateStore(path)

	tasks := []models.DownloadTask{
		{
			ID:            "t1",
			URL:           "http://example.com/a.bin",
			Dest:          "/tmp/a.bin",
			State:         models.TaskStatePaused,
			BytesReceived: 400,
			TotalBytes:    1000,
			AcceptRanges:  true,
			CreatedAt:     time.Now().Truncate(time.Second),
			UpdatedAt:     time.Now().Truncate(time.Second),
		},
		{
			ID:    "t2",
			URL:   "http://example.com/b.bin",
			Dest:  "/tmp/b.bin",
			State: models.TaskStateQueued,
		},
	}
	if err := store.SaveTasks(tasks); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadTasks()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(loaded))
	}
	if loaded[0].ID != "t1" || loaded[0].BytesReceived != 400 || loaded[0].State != models.TaskStatePaused {
		t.Errorf("first task lost fields: %+v", loaded[0])
	}
	if !loaded[0].AcceptRanges {
		t.Error("accept ranges flag lost")
	}
}

func TestStateStoreMissingFile(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "nope", "tasks.json"))
	tasks, err := store.LoadTasks()
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if tasks != nil {
		t.Errorf("missing file yielded %d tasks, want none", len(tasks))
	}
}

func TestStateStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{torn"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := NewStateStore(path).LoadTasks(); err == nil {
		t.Error("corrupt snapshot accepted")
	}
}

func TestStateStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "tasks.json")
	store := NewStateStore(path)
	if err := store.SaveTasks(nil); err != nil {
		t.Fatalf("save into missing dir: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestStateStoreOverwrite(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err := store.SaveTasks([]models.DownloadTask{{ID: "t1"}, {ID: "t2"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveTasks([]models.DownloadTask{{ID: "t3"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	loaded, err := store.LoadTasks()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "t3" {
		t.Errorf("overwrite kept stale tasks: %+v", loaded)
	}
}
