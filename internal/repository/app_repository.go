package repository

import "github.com/tangxiangong/yushi/internal/models"

// HistoryRepository persists terminal task records. Operations are
// independent of the live task registry.
type HistoryRepository interface {
	// Add stores a record, assigning an id and completion time when blank,
	// and returns the stored record. This is an unvalidated insert path.
	Add(task models.CompletedTask) (models.CompletedTask, error)
	// List returns all records, most recent first.
	List() ([]models.CompletedTask, error)
	// Search returns the records whose URL or destination contains query,
	// case-insensitively, most recent first.
	Search(query string) ([]models.CompletedTask, error)
	Remove(id string) error
	Clear() error
	Close() error
}

// StateRepository persists the live task set so queued and paused tasks
// survive a restart with their recorded offsets.
type StateRepository interface {
	LoadTasks() ([]models.DownloadTask, error)
	SaveTasks(tasks []models.DownloadTask) error
}
