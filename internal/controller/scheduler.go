package controller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tangxiangong/yushi/internal/config"
	"github.com/tangxiangong/yushi/internal/models"
	"github.com/tangxiangong/yushi/internal/repository"
)

type intent int

const (
	intentNone intent = iota
	intentPause
	intentCancel
)

type running struct {
	cancel    context.CancelFunc
	intent    intent
	startedAt time.Time
}

// Scheduler owns the worker slots. Eligible tasks wait in FIFO order; a slot
// frees whenever a running transfer reaches PAUSED, COMPLETED, FAILED, or
// CANCELLED, and the longest-waiting task takes it. The concurrency ceiling
// is re-read from config at every admission, so a decrease drains gradually
// and an increase takes effect on the next Kick.
type Scheduler struct {
	reg     *Registry
	cfg     *config.Store
	history repository.HistoryRepository

	mu     sync.Mutex
	queue  []string
	active map[string]*running
	closed bool
	wg     sync.WaitGroup
}

func NewScheduler(reg *Registry, cfg *config.Store, history repository.HistoryRepository) *Scheduler {
	return &Scheduler{
		reg:     reg,
		cfg:     cfg,
		history: history,
		active:  make(map[string]*running),
	}
}

// Enqueue registers a task for admission. Called for freshly created tasks
// and for restored QUEUED tasks after a restart.
func (s *Scheduler) Enqueue(id string) {
	s.mu.Lock()
	if s.closed || s.queued(id) {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, id)
	s.mu.Unlock()
	s.admit()
}

// queued reports whether id already waits for a slot. Caller holds the lock.
func (s *Scheduler) queued(id string) bool {
	for _, q := range s.queue {
		if q == id {
			return true
		}
	}
	return false
}

// Kick re-runs admission. Called after a config update so a raised ceiling
// admits waiting tasks immediately.
func (s *Scheduler) Kick() {
	s.admit()
}

// admit starts transfers for the longest-waiting eligible tasks until the
// ceiling is reached or the queue is empty. A task that fails to start is
// skipped and the slot retried with the next one.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		limit := s.cfg.Get().MaxConcurrentDownloads
		if len(s.active) >= limit {
			s.mu.Unlock()
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]

		task, err := s.reg.Start(id)
		if err != nil {
			// Task was removed or cancelled while waiting.
			s.mu.Unlock()
			log.Debugf("Skipping queued task %s: %v", id, err)
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		run := &running{cancel: cancel, startedAt: time.Now()}
		s.active[id] = run
		s.wg.Add(1)
		s.mu.Unlock()

		go s.runTask(ctx, run, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, run *running, task models.DownloadTask) {
	defer s.wg.Done()

	log.Infof("Starting transfer for task %s at offset %d", task.ID, task.BytesReceived)
	err := NewTransfer(s.cfg.Get()).Run(ctx, task, s.reg)

	s.mu.Lock()
	it := run.intent
	delete(s.active, task.ID)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.finishCompleted(task.ID, run.startedAt)
	case errIsCanceled(err) && it == intentCancel:
		s.finishCancelled(task.ID)
	case errIsCanceled(err):
		// Pause request, or shutdown parking the task at a safe point.
		if perr := s.reg.Pause(task.ID); perr != nil {
			log.Warnf("Failed to pause task %s: %v", task.ID, perr)
		} else {
			log.Infof("Paused task %s", task.ID)
		}
	default:
		log.Errorf("Task %s failed: %v", task.ID, err)
		if ferr := s.reg.Fail(task.ID, err.Error()); ferr != nil {
			log.Warnf("Failed to mark task %s failed: %v", task.ID, ferr)
		}
	}

	s.admit()
}

func (s *Scheduler) finishCompleted(id string, startedAt time.Time) {
	if err := s.reg.Complete(id); err != nil {
		log.Warnf("Failed to complete task %s: %v", id, err)
		return
	}
	task, err := s.reg.Get(id)
	if err != nil {
		return
	}

	elapsed := time.Since(startedAt)
	totalBytes := task.TotalBytes
	if totalBytes == 0 {
		totalBytes = task.BytesReceived
	}
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		seconds = 0.001
	}
	record := models.CompletedTask{
		URL:         task.URL,
		Dest:        task.Dest,
		TotalBytes:  totalBytes,
		Duration:    elapsed,
		AvgSpeed:    int64(float64(totalBytes) / seconds),
		CompletedAt: time.Now(),
		Outcome:     models.OutcomeSucceeded,
	}
	if s.history != nil {
		if _, err := s.history.Add(record); err != nil {
			log.Errorf("Failed to record history for task %s: %v", id, err)
		}
	}
	log.Infof("Completed task %s (%d bytes in %s)", id, totalBytes, elapsed.Round(time.Millisecond))
}

func (s *Scheduler) finishCancelled(id string) {
	task, err := s.reg.Cancel(id)
	if err != nil {
		log.Warnf("Failed to cancel task %s: %v", id, err)
		return
	}
	removeTaskFile(task)
}

// removeTaskFile deletes the (partial) output file of a cancelled task.
func removeTaskFile(task models.DownloadTask) {
	if err := os.Remove(task.Dest); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to remove file for cancelled task %s: %v", task.ID, err)
	}
}

// Pause stops a DOWNLOADING task after its current chunk, keeping the
// partial file and offset. A PAUSED task still waiting for a resume slot is
// pulled back out of the queue.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	if run, ok := s.active[id]; ok {
		run.intent = intentPause
		run.cancel()
		s.mu.Unlock()
		return nil
	}
	if s.queued(id) {
		if task, err := s.reg.Get(id); err == nil && task.State == models.TaskStatePaused {
			s.dequeue(id)
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	task, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot pause task in state %s", models.ErrInvalidTransition, task.State)
}

// Resume puts a PAUSED task back in the admission queue, competing for a
// slot like any queued task. A FAILED task is re-queued the same way,
// restarting from its recorded offset.
func (s *Scheduler) Resume(id string) error {
	task, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	switch task.State {
	case models.TaskStatePaused:
		// State stays PAUSED until the scheduler assigns a slot.
	case models.TaskStateFailed:
		if err := s.reg.Retry(id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cannot resume task in state %s", models.ErrInvalidTransition, task.State)
	}
	s.Enqueue(id)
	return nil
}

// Cancel aborts a task in any non-terminal state, deleting its partial file
// and removing it from the registry.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	if run, ok := s.active[id]; ok {
		run.intent = intentCancel
		run.cancel()
		s.mu.Unlock()
		return nil
	}
	s.dequeue(id)
	s.mu.Unlock()

	task, err := s.reg.Cancel(id)
	if err != nil {
		return err
	}
	removeTaskFile(task)
	return nil
}

// dequeue drops id from the waiting queue if present. Caller holds the lock.
func (s *Scheduler) dequeue(id string) {
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// ActiveCount returns the number of tasks currently holding a worker slot.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close stops admissions and interrupts active transfers so they park as
// PAUSED at a safe point. It returns once all workers have drained or ctx
// expires.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	for _, run := range s.active {
		if run.intent == intentNone {
			run.intent = intentPause
		}
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}
