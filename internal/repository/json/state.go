package json

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tangxiangong/yushi/internal/models"
)

// StateStore persists the live task set as a single JSON file, written
// atomically (temp file + rename) so a crash never leaves a torn snapshot.
type StateStore struct {
	mu   sync.Mutex
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

type snapshot struct {
	Tasks []models.DownloadTask `json:"tasks"`
}

// LoadTasks reads the snapshot. A missing file is an empty task set, not an
// error.
func (s *StateStore) LoadTasks() ([]models.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("error unmarshaling state: %w", err)
	}
	return snap.Tasks, nil
}

func (s *StateStore) SaveTasks(tasks []models.DownloadTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot{Tasks: tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("error creating state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error renaming state file: %w", err)
	}
	return nil
}
