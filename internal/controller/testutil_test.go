package controller

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tangxiangong/yushi/internal/config"
	"github.com/tangxiangong/yushi/internal/models"
)

// fakeFileServer serves one blob, optionally honoring range requests. When
// gate is set, the response blocks after gateAfter bytes until the gate is
// closed or the client goes away, which makes pause points deterministic.
type fakeFileServer struct {
	data      []byte
	ranges    bool
	gate      chan struct{}
	gateAfter int
}

func (s *fakeFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if rh := r.Header.Get("Range"); rh != "" && s.ranges {
		fmt.Sscanf(rh, "bytes=%d-", &offset)
		if offset >= len(s.data) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(s.data)-1, len(s.data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)-offset))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		if s.ranges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		w.WriteHeader(http.StatusOK)
	}

	body := s.data[offset:]
	if s.gate != nil && offset < s.gateAfter {
		head := s.gateAfter - offset
		w.Write(body[:head])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-s.gate:
		case <-r.Context().Done():
			return
		}
		body = body[head:]
	}
	w.Write(body)
}

func newFakeServer(t *testing.T, s *fakeFileServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

// testData returns size deterministic bytes.
func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// newTestConfig builds a config store rooted in a temp dir with small
// chunks, so pause and cancel land within a few reads.
func newTestConfig(t *testing.T, maxConcurrent int) *config.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := config.NewStore(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("new config store: %v", err)
	}
	cfg := store.Get()
	cfg.MaxConcurrentDownloads = maxConcurrent
	cfg.DownloadDir = dir
	cfg.ChunkSize = 64
	cfg.Timeout = 2 * time.Second
	if err := store.Update(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	return store
}

// memHistory is an in-memory HistoryRepository for scheduler tests.
type memHistory struct {
	mu      sync.Mutex
	records []models.CompletedTask
}

func (h *memHistory) Add(task models.CompletedTask) (models.CompletedTask, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, task)
	return task, nil
}

func (h *memHistory) List() ([]models.CompletedTask, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.CompletedTask, len(h.records))
	copy(out, h.records)
	return out, nil
}

func (h *memHistory) Search(string) ([]models.CompletedTask, error) { return h.List() }
func (h *memHistory) Remove(string) error                           { return nil }
func (h *memHistory) Clear() error                                  { return nil }
func (h *memHistory) Close() error                                  { return nil }

func (h *memHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
