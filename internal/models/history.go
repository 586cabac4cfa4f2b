package models

import "time"

type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeFailed    Outcome = "FAILED"
)

// CompletedTask is a terminal snapshot of a finished transfer, stored in the
// history. Its ID is independent of the live task id, so removing one has no
// effect on the other. Records are immutable once stored.
type CompletedTask struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Dest        string        `json:"dest"`
	TotalBytes  int64         `json:"total_bytes"`
	Duration    time.Duration `json:"duration"`
	AvgSpeed    int64         `json:"avg_speed"` // bytes per second
	CompletedAt time.Time     `json:"completed_at"`
	Outcome     Outcome       `json:"outcome"`
}
