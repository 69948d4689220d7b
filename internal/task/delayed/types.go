package delayed

import (
	"context"
	"time"
)

// Func is the deferred work. args are the values bound at Schedule time.
//
// ctx is cancelled (cause ErrCancelled) when the task is cancelled or the
// registry stops. Honoring it is the work's responsibility.
type Func func(ctx context.Context, args ...any) (any, error)

// State is the lifecycle state of a scheduled task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Config controls the registry.
type Config struct {
	// HistorySize bounds the finished-task history kept for Snapshot.
	// 0 means the default (100); negative disables history.
	HistorySize int

	// OnError, if set, is called once for every task that finishes with an
	// error (including recovered panics). It runs on the task's goroutine
	// before Done is closed.
	OnError func(name string, err error)
}

const defaultHistorySize = 100

// Event types published on the event bus.
const (
	EventScheduled = "task.scheduled"
	EventStarted   = "task.started"
	EventFinished  = "task.finished"
	EventFailed    = "task.failed"
	EventCancelled = "task.cancelled"
)

// TaskEvent is the payload of registry events.
type TaskEvent struct {
	Name        string        `json:"name"`
	State       string        `json:"state"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Delay       time.Duration `json:"delay"`
	Started     time.Time     `json:"started,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// HistoryItem describes a finished task.
type HistoryItem struct {
	Name     string
	State    State
	Started  time.Time // zero if the work never ran
	Finished time.Time
	Duration time.Duration
	Error    string
}

// Entry describes a live registry entry.
type Entry struct {
	Name        string
	State       State
	ScheduledAt time.Time
	DueAt       time.Time
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Tasks   []Entry
	History []HistoryItem
}
