package delayed

import (
	"context"
	"sync/atomic"
	"time"
)

// Handle is the caller's view of one scheduled task.
//
// It can be used to inspect or await the task. Cancellation goes through
// Registry.Cancel by name; cleanup never depends on the caller keeping the
// handle.
type Handle struct {
	name        string
	delay       time.Duration
	scheduledAt time.Time

	state     atomic.Int32 // State
	startedAt atomic.Int64 // unix nanos; 0 until Running

	ctx    context.Context
	cancel context.CancelCauseFunc

	// result and err are written once before done is closed.
	done   chan struct{}
	result any
	err    error
}

func newHandle(name string, delay time.Duration) *Handle {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Handle{
		name:        name,
		delay:       delay,
		scheduledAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (h *Handle) Name() string           { return h.name }
func (h *Handle) Delay() time.Duration   { return h.delay }
func (h *Handle) ScheduledAt() time.Time { return h.scheduledAt }

// DueAt is when the work is expected to start.
func (h *Handle) DueAt() time.Time { return h.scheduledAt.Add(h.delay) }

// StartedAt returns when the work was invoked, or the zero time if it never was.
func (h *Handle) StartedAt() time.Time {
	ns := h.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *Handle) State() State { return State(h.state.Load()) }

// Done is closed once the task has settled and left the registry.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task settles or ctx is done.
//
// It returns the work's result and error. A task cancelled before its work
// ran reports ErrCancelled.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the work's result without blocking. ok is false until the
// task has settled.
func (h *Handle) Result() (result any, ok bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return nil, false
	}
}

// Err returns the task's error without blocking; nil until settled.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// begin moves Pending -> Running. It fails if the task was cancelled first.
func (h *Handle) begin() bool {
	if !h.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return false
	}
	h.startedAt.Store(time.Now().UnixNano())
	return true
}

// markCancelled moves any non-terminal state to Cancelled.
func (h *Handle) markCancelled() bool {
	for {
		cur := State(h.state.Load())
		if cur.Terminal() {
			return false
		}
		if h.state.CompareAndSwap(int32(cur), int32(StateCancelled)) {
			return true
		}
	}
}

// settle records the outcome and returns the final state. A task cancelled
// mid-flight stays Cancelled whatever the work returned.
func (h *Handle) settle(result any, err error) State {
	final := StateCompleted
	if err != nil {
		final = StateFailed
	}
	if !h.state.CompareAndSwap(int32(StateRunning), int32(final)) {
		final = State(h.state.Load())
	}
	h.result = result
	h.err = err
	return final
}
