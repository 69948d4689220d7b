package delayed

import "errors"

var (
	// ErrDuplicateTask is returned by Schedule when the name already has a live entry.
	ErrDuplicateTask = errors.New("delayed: duplicate task")
	// ErrNotFound is returned by Lookup when the name has no live entry.
	ErrNotFound = errors.New("delayed: task not found")

	// ErrInvalidName is returned by Schedule for an empty (after trimming) name.
	ErrInvalidName = errors.New("delayed: invalid task name")
	// ErrInvalidDelay is returned by Schedule for a negative delay.
	ErrInvalidDelay = errors.New("delayed: invalid delay")
	// ErrNilWork is returned by Schedule when work is nil.
	ErrNilWork = errors.New("delayed: nil work")
	// ErrClosed is returned by Schedule after Stop.
	ErrClosed = errors.New("delayed: registry closed")

	// ErrCancelled is the context cause seen by work after Cancel or Stop,
	// and the error reported by a handle whose task was cancelled.
	ErrCancelled = errors.New("delayed: task cancelled")
	// ErrPanicked wraps a panic recovered from work.
	ErrPanicked = errors.New("delayed: task panicked")
)
