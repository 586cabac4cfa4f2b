package models

import (
	"path/filepath"
	"time"
)

type TaskState string

const (
	TaskStateQueued      TaskState = "QUEUED"
	TaskStateDownloading TaskState = "DOWNLOADING"
	TaskStatePaused      TaskState = "PAUSED"
	TaskStateCompleted   TaskState = "COMPLETED"
	TaskStateFailed      TaskState = "FAILED"
	TaskStateCancelled   TaskState = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateCancelled
}

// DownloadTask is one requested file transfer. The registry owns the
// authoritative copy; everything handed out of the registry is a value copy.
type DownloadTask struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Dest          string    `json:"dest"`
	State         TaskState `json:"state"`
	BytesReceived int64     `json:"bytes_received"`
	TotalBytes    int64     `json:"total_bytes"` // 0 until the first response, may stay 0
	AcceptRanges  bool      `json:"accept_ranges"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Error         string    `json:"error,omitempty"` // set only in FAILED
}

// FileName is the destination's base name, for display.
func (t DownloadTask) FileName() string {
	return filepath.Base(t.Dest)
}

// ProgressUpdate is one entry on the registry's notification channel.
// Consumers get monotonically consistent snapshots, not every byte increment.
type ProgressUpdate struct {
	TaskID        string
	State         TaskState
	BytesReceived int64
	TotalBytes    int64
	Error         string
}
