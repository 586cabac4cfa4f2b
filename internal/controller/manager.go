package controller

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/tangxiangong/yushi/internal/config"
	"github.com/tangxiangong/yushi/internal/models"
	"github.com/tangxiangong/yushi/internal/repository"
	"github.com/tangxiangong/yushi/internal/updater"
)

// Manager is the command surface consumed by the host frontend. It composes
// the registry, scheduler, and stores behind one typed API with validation
// at the boundary; no component behind it is reachable any other way.
type Manager struct {
	cfg     *config.Store
	reg     *Registry
	sched   *Scheduler
	history repository.HistoryRepository
	updates *updater.Service
}

func NewManager(cfg *config.Store, reg *Registry, sched *Scheduler, history repository.HistoryRepository, updates *updater.Service) *Manager {
	return &Manager{
		cfg:     cfg,
		reg:     reg,
		sched:   sched,
		history: history,
		updates: updates,
	}
}

// AddTask admits a new download and returns its id. An empty dest, or a dest
// naming an existing directory, gets a filename derived from the URL under
// the configured download directory.
func (m *Manager) AddTask(rawURL, dest string) (string, error) {
	if dest == "" {
		dest = filepath.Join(m.cfg.Get().DownloadDir, deriveFileName(rawURL))
	} else if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, deriveFileName(rawURL))
	}

	task, err := m.reg.Create(rawURL, dest)
	if err != nil {
		return "", err
	}
	m.sched.Enqueue(task.ID)
	return task.ID, nil
}

// deriveFileName picks a destination filename from the last URL path
// segment, falling back to a generic name.
func deriveFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download.bin"
}

// Tasks returns a snapshot of all live tasks in insertion order.
func (m *Manager) Tasks() []models.DownloadTask {
	return m.reg.List()
}

func (m *Manager) Task(id string) (models.DownloadTask, error) {
	return m.reg.Get(id)
}

func (m *Manager) PauseTask(id string) error {
	return m.sched.Pause(id)
}

// ResumeTask re-queues a paused task. A failed task is retried the same way,
// continuing from its recorded offset when the server supports ranges.
func (m *Manager) ResumeTask(id string) error {
	return m.sched.Resume(id)
}

func (m *Manager) CancelTask(id string) error {
	return m.sched.Cancel(id)
}

func (m *Manager) RemoveTask(id string) error {
	return m.reg.Remove(id)
}

func (m *Manager) ClearCompletedTasks() {
	m.reg.ClearCompleted()
}

func (m *Manager) Config() config.AppConfig {
	return m.cfg.Get()
}

// UpdateConfig validates and persists cfg, then re-runs admission so a
// raised concurrency ceiling takes effect immediately. Running transfers are
// never disturbed.
func (m *Manager) UpdateConfig(cfg config.AppConfig) error {
	if err := m.cfg.Update(cfg); err != nil {
		return err
	}
	m.sched.Kick()
	return nil
}

func (m *Manager) History() ([]models.CompletedTask, error) {
	return m.history.List()
}

func (m *Manager) SearchHistory(query string) ([]models.CompletedTask, error) {
	return m.history.Search(query)
}

// AddHistory inserts a record directly, bypassing task lifecycle. This is an
// import path for external records and is deliberately unvalidated.
func (m *Manager) AddHistory(task models.CompletedTask) (models.CompletedTask, error) {
	return m.history.Add(task)
}

func (m *Manager) RemoveHistory(id string) error {
	return m.history.Remove(id)
}

func (m *Manager) ClearHistory() error {
	return m.history.Clear()
}

func (m *Manager) CheckUpdates(ctx context.Context) (models.UpdateInfo, error) {
	return m.updates.Check(ctx)
}

func (m *Manager) InstallUpdate(ctx context.Context) error {
	return m.updates.DownloadAndInstall(ctx)
}

// Events exposes the registry's ordered progress notification channel.
func (m *Manager) Events() <-chan models.ProgressUpdate {
	return m.reg.Events()
}

// Close shuts the manager down: admissions stop, active transfers park as
// PAUSED, and the history store closes.
func (m *Manager) Close(ctx context.Context) error {
	err := m.sched.Close(ctx)
	if cerr := m.history.Close(); err == nil {
		err = cerr
	}
	return err
}
