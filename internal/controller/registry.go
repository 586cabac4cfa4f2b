package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tangxiangong/yushi/internal/models"
	"github.com/tangxiangong/yushi/internal/repository"
)

// Registry is the authoritative in-memory map of live tasks. All mutations
// go through its methods and are atomic with respect to concurrent callers;
// no observer ever sees a task partway through a transition. Everything
// handed out is a value copy.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*models.DownloadTask
	order []string

	store  repository.StateRepository
	events chan models.ProgressUpdate
}

// transitions is the legal edge set of the task state machine. Entering
// DOWNLOADING additionally requires going through Start, which only the
// scheduler calls.
var transitions = map[models.TaskState][]models.TaskState{
	models.TaskStateQueued:      {models.TaskStateDownloading, models.TaskStateCancelled},
	models.TaskStateDownloading: {models.TaskStatePaused, models.TaskStateCompleted, models.TaskStateFailed, models.TaskStateCancelled},
	models.TaskStatePaused:      {models.TaskStateDownloading, models.TaskStateCancelled},
	models.TaskStateFailed:      {models.TaskStateQueued, models.TaskStateCancelled},
}

func canTransition(from, to models.TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NewRegistry creates a registry persisting through store. A nil store keeps
// the registry purely in-memory.
func NewRegistry(store repository.StateRepository) *Registry {
	return &Registry{
		tasks:  make(map[string]*models.DownloadTask),
		store:  store,
		events: make(chan models.ProgressUpdate, 256),
	}
}

// Events is the ordered per-task notification channel. Delivery of every
// byte increment is not guaranteed; state transitions and eventual byte
// counts are.
func (r *Registry) Events() <-chan models.ProgressUpdate {
	return r.events
}

// Load restores tasks from the snapshot store. Tasks recorded as DOWNLOADING
// come back as PAUSED: the process that was writing the partial file is gone,
// so they must never resume without an explicit user action.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	tasks, err := r.store.LoadTasks()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tasks {
		task := t
		if task.State == models.TaskStateDownloading {
			task.State = models.TaskStatePaused
			task.UpdatedAt = time.Now()
		}
		r.tasks[task.ID] = &task
		r.order = append(r.order, task.ID)
	}
	if len(tasks) > 0 {
		log.Infof("Restored %d tasks from snapshot", len(tasks))
	}
	return nil
}

// Create admits a new task in QUEUED state and returns it. It fails with
// ErrInvalidDestination when dest is not a writable file path and with
// ErrDuplicateDestination when another live task already targets it.
func (r *Registry) Create(url, dest string) (models.DownloadTask, error) {
	if url == "" {
		return models.DownloadTask{}, fmt.Errorf("%w: url is required", models.ErrInvalidDestination)
	}
	if err := checkDestination(dest); err != nil {
		return models.DownloadTask{}, err
	}

	now := time.Now()
	task := &models.DownloadTask{
		ID:        uuid.NewString(),
		URL:       url,
		Dest:      dest,
		State:     models.TaskStateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	for _, id := range r.order {
		other := r.tasks[id]
		if other.Dest == dest && !other.State.Terminal() {
			r.mu.Unlock()
			return models.DownloadTask{}, fmt.Errorf("%w: %s", models.ErrDuplicateDestination, dest)
		}
	}
	r.tasks[task.ID] = task
	r.order = append(r.order, task.ID)
	snap := *task
	r.mu.Unlock()

	r.persist()
	r.publish(snap)
	log.Infof("Created task %s: %s -> %s", task.ID, url, dest)
	return snap, nil
}

// checkDestination verifies that dest names a creatable, writable file path.
func checkDestination(dest string) error {
	if dest == "" {
		return fmt.Errorf("%w: destination path is required", models.ErrInvalidDestination)
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", models.ErrInvalidDestination, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrInvalidDestination, dest, err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrInvalidDestination, dest, err)
	}
	return f.Close()
}

func (r *Registry) Get(id string) (models.DownloadTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return models.DownloadTask{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return *task, nil
}

// List returns a snapshot of all live tasks in insertion order.
func (r *Registry) List() []models.DownloadTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DownloadTask, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tasks[id])
	}
	return out
}

// Remove deletes a task that is in a terminal or QUEUED state. A task that
// is DOWNLOADING, PAUSED, or FAILED still owns meaningful on-disk state and
// must be cancelled first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if !task.State.Terminal() && task.State != models.TaskStateQueued {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s, cancel it first", models.ErrTaskBusy, id, task.State)
	}
	r.delete(id)
	r.mu.Unlock()

	r.persist()
	log.Infof("Removed task %s", id)
	return nil
}

// delete removes id from the map and order slice. Caller holds the lock.
func (r *Registry) delete(id string) {
	delete(r.tasks, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Start transitions a QUEUED or PAUSED task into DOWNLOADING. Only the
// scheduler calls this; a task cannot self-promote into a worker slot.
func (r *Registry) Start(id string) (models.DownloadTask, error) {
	return r.transition(id, models.TaskStateDownloading, "")
}

// Pause transitions a DOWNLOADING task into PAUSED, freezing its byte count.
func (r *Registry) Pause(id string) error {
	_, err := r.transition(id, models.TaskStatePaused, "")
	return err
}

// Complete marks a DOWNLOADING task as COMPLETED.
func (r *Registry) Complete(id string) error {
	_, err := r.transition(id, models.TaskStateCompleted, "")
	return err
}

// Fail marks a DOWNLOADING task as FAILED, recording the error. The partial
// file is preserved so a retry can continue from the recorded offset.
func (r *Registry) Fail(id, errMsg string) error {
	_, err := r.transition(id, models.TaskStateFailed, errMsg)
	return err
}

// Retry re-queues a FAILED task.
func (r *Registry) Retry(id string) error {
	_, err := r.transition(id, models.TaskStateQueued, "")
	return err
}

func (r *Registry) transition(id string, to models.TaskState, errMsg string) (models.DownloadTask, error) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return models.DownloadTask{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if !canTransition(task.State, to) {
		from := task.State
		r.mu.Unlock()
		return models.DownloadTask{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	task.State = to
	task.UpdatedAt = time.Now()
	task.Error = ""
	if to == models.TaskStateFailed {
		task.Error = errMsg
	}
	snap := *task
	r.mu.Unlock()

	r.persist()
	r.publish(snap)
	return snap, nil
}

// Cancel aborts a task in any non-terminal state and removes it from the
// registry entirely; it will never appear in List again. The returned copy
// lets the caller clean up the partial file. Cancellation does not create a
// history entry.
func (r *Registry) Cancel(id string) (models.DownloadTask, error) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return models.DownloadTask{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if task.State.Terminal() {
		from := task.State
		r.mu.Unlock()
		return models.DownloadTask{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, models.TaskStateCancelled)
	}
	task.State = models.TaskStateCancelled
	task.UpdatedAt = time.Now()
	snap := *task
	r.delete(id)
	r.mu.Unlock()

	r.persist()
	r.publish(snap)
	log.Infof("Cancelled task %s", id)
	return snap, nil
}

// ClearCompleted drops every COMPLETED task from the registry.
func (r *Registry) ClearCompleted() {
	r.mu.Lock()
	var kept []string
	for _, id := range r.order {
		if r.tasks[id].State == models.TaskStateCompleted {
			delete(r.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	r.mu.Unlock()

	r.persist()
}

// SetProgress records transfer progress for a DOWNLOADING task. Byte counts
// only move forward; calls against a task that has left DOWNLOADING are
// dropped, which is what freezes the count while PAUSED. total is recorded
// once known (0 leaves it unchanged).
func (r *Registry) SetProgress(id string, received, total int64) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok || task.State != models.TaskStateDownloading {
		r.mu.Unlock()
		return
	}
	if received < task.BytesReceived {
		log.Warnf("Task %s: ignoring progress regression %d < %d", id, received, task.BytesReceived)
		r.mu.Unlock()
		return
	}
	if total > 0 {
		task.TotalBytes = total
	}
	if task.TotalBytes > 0 && received > task.TotalBytes {
		log.Warnf("Task %s: received %d exceeds total %d", id, received, task.TotalBytes)
		received = task.TotalBytes
	}
	task.BytesReceived = received
	task.UpdatedAt = time.Now()
	snap := *task
	r.mu.Unlock()

	r.publish(snap)
}

// ResetProgress zeroes the byte count of a DOWNLOADING task. Used when a
// server ignores a range request and the transfer has to restart from byte
// zero.
func (r *Registry) ResetProgress(id string) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok || task.State != models.TaskStateDownloading {
		r.mu.Unlock()
		return
	}
	task.BytesReceived = 0
	task.TotalBytes = 0
	task.UpdatedAt = time.Now()
	snap := *task
	r.mu.Unlock()

	r.publish(snap)
}

// SetAcceptRanges records whether the task's server honors range requests.
func (r *Registry) SetAcceptRanges(id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, exists := r.tasks[id]; exists {
		task.AcceptRanges = ok
	}
}

// persist snapshots the registry to the state store. Byte-level progress is
// not persisted on every update; transitions are, which is when offsets
// matter (a paused task's offset is written the moment it pauses).
func (r *Registry) persist() {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTasks(r.List()); err != nil {
		log.Errorf("Failed to save task snapshot: %v", err)
	}
}

// publish delivers an update without ever blocking a registry mutation;
// a slow consumer misses intermediate updates, not ordering.
func (r *Registry) publish(task models.DownloadTask) {
	select {
	case r.events <- models.ProgressUpdate{
		TaskID:        task.ID,
		State:         task.State,
		BytesReceived: task.BytesReceived,
		TotalBytes:    task.TotalBytes,
		Error:         task.Error,
	}:
	default:
	}
}
