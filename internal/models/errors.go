package models

import "errors"

// Error kinds surfaced by the task manager. Components wrap these with
// context via fmt.Errorf and %w; callers classify with errors.Is.
var (
	ErrNotFound             = errors.New("task not found")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrTaskBusy             = errors.New("task is busy")
	ErrInvalidDestination   = errors.New("invalid destination")
	ErrDuplicateDestination = errors.New("destination already in use")
	ErrInvalidConfig        = errors.New("invalid config")
	ErrNetwork              = errors.New("network error")
	ErrIO                   = errors.New("i/o error")
	ErrRangeNotSupported    = errors.New("server does not support range requests")
	ErrInstallFailed        = errors.New("install failed")
)
