package sqliteDb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tangxiangong/yushi/internal/models"
)

func newTestStore(t *testing.T, maxHistory int) *HistoryStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "history.db"), maxHistory)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func record(url string, completedAt time.Time) models.CompletedTask {
	return models.CompletedTask{
		URL:         url,
		Dest:        "/tmp/" + filepath.Base(url),
		TotalBytes:  1024,
		Duration:    3 * time.Second,
		AvgSpeed:    341,
		CompletedAt: completedAt,
		Outcome:     models.OutcomeSucceeded,
	}
}

func TestHistoryAddAssignsIDAndTime(t *testing.T) {
	store := newTestStore(t, 0)

	got, err := store.Add(models.CompletedTask{URL: "http://example.com/a.bin", Dest: "/tmp/a.bin"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.ID == "" {
		t.Error("no id assigned")
	}
	if got.CompletedAt.IsZero() {
		t.Error("no completion time assigned")
	}
}

func TestHistoryListNewestFirst(t *testing.T) {
	store := newTestStore(t, 0)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := store.Add(record(
			"http://example.com/file"+string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d records, want 3", len(list))
	}
	if list[0].URL != "http://example.com/filec" || list[2].URL != "http://example.com/filea" {
		t.Errorf("records not newest first: %s, %s, %s", list[0].URL, list[1].URL, list[2].URL)
	}
	// Scanned fields survive the round trip.
	if list[0].Duration != 3*time.Second || list[0].TotalBytes != 1024 || list[0].Outcome != models.OutcomeSucceeded {
		t.Errorf("record lost fields: %+v", list[0])
	}
}

func TestHistorySearchCaseInsensitive(t *testing.T) {
	store := newTestStore(t, 0)
	now := time.Now()
	store.Add(record("http://example.com/Archive.ZIP", now))
	store.Add(record("http://example.com/notes.txt", now))

	hits, err := store.Search("archive")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].URL != "http://example.com/Archive.ZIP" {
		t.Errorf("search hits = %d, want the ZIP record", len(hits))
	}

	// Dest matches too.
	hits, _ = store.Search("NOTES")
	if len(hits) != 1 {
		t.Errorf("dest search hits = %d, want 1", len(hits))
	}

	hits, _ = store.Search("missing")
	if len(hits) != 0 {
		t.Errorf("no-match search hits = %d, want 0", len(hits))
	}
}

func TestHistoryRemove(t *testing.T) {
	store := newTestStore(t, 0)
	added, _ := store.Add(record("http://example.com/a.bin", time.Now()))

	if err := store.Remove(added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(added.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("remove twice: got %v, want ErrNotFound", err)
	}
}

func TestHistoryClear(t *testing.T) {
	store := newTestStore(t, 0)
	store.Add(record("http://example.com/a.bin", time.Now()))
	store.Add(record("http://example.com/b.bin", time.Now()))

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, _ := store.List()
	if len(list) != 0 {
		t.Errorf("cleared store still holds %d records", len(list))
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	store := newTestStore(t, 3)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if _, err := store.Add(record(
			"http://example.com/file"+string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("capped store holds %d records, want 3", len(list))
	}
	// The two oldest are gone.
	for _, rec := range list {
		if rec.URL == "http://example.com/filea" || rec.URL == "http://example.com/fileb" {
			t.Errorf("evicted record %s still present", rec.URL)
		}
	}
}

func TestHistoryReopenSeesRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	store, err := New(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	added, _ := store.Add(record("http://example.com/a.bin", time.Now()))
	store.Close()

	reopened, err := New(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	list, _ := reopened.List()
	if len(list) != 1 || list[0].ID != added.ID {
		t.Errorf("reopened store lost records (%d found)", len(list))
	}
}
