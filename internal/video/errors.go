package video

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded means every compression slot is taken.
	ErrCapacityExceeded = errors.New("compression capacity exceeded")
	// ErrInsufficientDisk means free space on the temp volume is below the reserve.
	ErrInsufficientDisk = errors.New("insufficient disk space")
)

// FetchError wraps any failure to obtain the source file for a URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// InspectionError means the local file is unreadable or corrupt.
type InspectionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InspectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inspect %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("inspect %s: %s", e.Path, e.Reason)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// AttemptError describes one failed encode. It never leaves the engine.
type AttemptError struct {
	Candidate Candidate
	Status    AttemptStatus
	Err       error
}

func (e *AttemptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("attempt %s: %s", e.Candidate, e.Status)
	}
	return fmt.Sprintf("attempt %s: %s: %v", e.Candidate, e.Status, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// AbortCause classifies why a job ended without trying every candidate.
type AbortCause string

const (
	CauseNone       AbortCause = ""
	CauseFetch      AbortCause = "fetch"
	CauseInspection AbortCause = "inspection"
	CauseCapacity   AbortCause = "capacity"
	CauseDisk       AbortCause = "disk"
	CauseCancelled  AbortCause = "cancelled"
	CauseInternal   AbortCause = "internal"
)

// Busy reports whether the cause is a resource condition worth retrying later.
func (c AbortCause) Busy() bool { return c == CauseCapacity || c == CauseDisk }

// ClassifyAbort maps an abort error to its cause.
func ClassifyAbort(err error) AbortCause {
	var (
		fe *FetchError
		ie *InspectionError
	)
	switch {
	case err == nil:
		return CauseNone
	case errors.As(err, &fe):
		return CauseFetch
	case errors.As(err, &ie):
		return CauseInspection
	case errors.Is(err, ErrCapacityExceeded):
		return CauseCapacity
	case errors.Is(err, ErrInsufficientDisk):
		return CauseDisk
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseCancelled
	default:
		return CauseInternal
	}
}
