package sqliteDb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/tangxiangong/yushi/internal/models"
)

// HistoryStore is the sqlite-backed history of terminal tasks.
type HistoryStore struct {
	db         *sql.DB
	maxHistory int
}

// New opens (and initializes if needed) the history database at dbPath.
// maxHistory caps the number of stored records; 0 means unlimited.
func New(dbPath string, maxHistory int) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open SQLite database with WAL journaling and timeout settings
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &HistoryStore{db: db, maxHistory: maxHistory}, nil
}

func initDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			dest TEXT NOT NULL,
			total_bytes INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			avg_speed INTEGER DEFAULT 0,
			outcome TEXT,
			completed_at INTEGER
		)
	`)
	return err
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Add stores a completed-task record. A blank id or completion time is
// filled in; nothing else is validated, so external records can be imported
// as-is.
func (s *HistoryStore) Add(task models.CompletedTask) (models.CompletedTask, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CompletedAt.IsZero() {
		task.CompletedAt = time.Now()
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO history (id, url, dest, total_bytes, duration_ms, avg_speed, outcome, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		task.ID,
		task.URL,
		task.Dest,
		task.TotalBytes,
		task.Duration.Milliseconds(),
		task.AvgSpeed,
		string(task.Outcome),
		task.CompletedAt.Unix(),
	)
	if err != nil {
		return models.CompletedTask{}, fmt.Errorf("save history record: %w", err)
	}

	if s.maxHistory > 0 {
		if err := s.prune(); err != nil {
			log.Errorf("Failed to prune history: %v", err)
		}
	}
	return task, nil
}

// prune evicts the oldest records beyond the configured cap.
func (s *HistoryStore) prune() error {
	_, err := s.db.Exec(`
		DELETE FROM history WHERE rowid NOT IN (
			SELECT rowid FROM history ORDER BY completed_at DESC, rowid DESC LIMIT ?
		)`, s.maxHistory)
	return err
}

func (s *HistoryStore) List() ([]models.CompletedTask, error) {
	return s.query("SELECT id, url, dest, total_bytes, duration_ms, avg_speed, outcome, completed_at FROM history ORDER BY completed_at DESC, rowid DESC")
}

func (s *HistoryStore) Search(query string) ([]models.CompletedTask, error) {
	return s.query(
		"SELECT id, url, dest, total_bytes, duration_ms, avg_speed, outcome, completed_at FROM history WHERE instr(lower(url), lower(?)) > 0 OR instr(lower(dest), lower(?)) > 0 ORDER BY completed_at DESC, rowid DESC",
		query, query,
	)
}

func (s *HistoryStore) query(stmt string, args ...any) ([]models.CompletedTask, error) {
	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var tasks []models.CompletedTask
	for rows.Next() {
		var t models.CompletedTask
		var outcome string
		var durationMs, completedAt int64
		if err := rows.Scan(&t.ID, &t.URL, &t.Dest, &t.TotalBytes, &durationMs, &t.AvgSpeed, &outcome, &completedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Outcome = models.Outcome(outcome)
		t.CompletedAt = time.Unix(completedAt, 0)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *HistoryStore) Remove(id string) error {
	res, err := s.db.Exec("DELETE FROM history WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove history record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: history record %s", models.ErrNotFound, id)
	}
	return nil
}

func (s *HistoryStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
