package delayed

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"dayong/internal/eventbus"
	logx "dayong/pkg/logx"

	"github.com/samber/lo"
)

// Registry owns the name -> handle mapping and the lifecycle of every task in it.
type Registry struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	tasks  map[string]*Handle
	closed bool

	wg sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

// New constructs a registry. log and bus may be zero/nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Registry {
	if cfg.HistorySize == 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Registry{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "delayed")),
		bus:   bus,
		tasks: map[string]*Handle{},
	}
}

// Schedule registers work under name and returns immediately. The entry is
// visible to Lookup before Schedule returns.
//
// After delay the work is invoked once with args. The entry is removed when
// the work returns, fails, panics or is cancelled.
func (r *Registry) Schedule(work Func, name string, delay time.Duration, args ...any) (string, *Handle, error) {
	// The name is the key as given; surrounding blanks are not stripped.
	if strings.TrimSpace(name) == "" {
		return "", nil, ErrInvalidName
	}
	if delay < 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	if work == nil {
		return "", nil, ErrNilWork
	}
	bound := append([]any(nil), args...)

	h := newHandle(name, delay)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.cancel(ErrClosed)
		return "", nil, ErrClosed
	}
	if _, exists := r.tasks[name]; exists {
		r.mu.Unlock()
		h.cancel(nil)
		return "", nil, fmt.Errorf("%w: %q", ErrDuplicateTask, name)
	}
	r.tasks[name] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Debug("task scheduled", logx.String("task", name), logx.Duration("delay", delay))
	r.publish(EventScheduled, h, StatePending, time.Time{}, 0, nil)

	go r.run(h, work, bound)
	return name, h, nil
}

// Lookup returns the live handle for name.
func (r *Registry) Lookup(name string) (*Handle, error) {
	r.mu.Lock()
	h, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return h, nil
}

// Cancel removes name from the registry and cancels its task. It reports
// false if there was no live entry or the task settled first. It does not
// wait for running work.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	h, ok := r.tasks[name]
	cancelled := false
	if ok {
		delete(r.tasks, name)
		// Marked under the lock so the task cannot slip from Pending to
		// Running between removal and the state change.
		cancelled = h.markCancelled()
	}
	r.mu.Unlock()
	if !cancelled {
		return false
	}
	h.cancel(ErrCancelled)
	r.log.Debug("task cancel requested", logx.String("task", name))
	return true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Names returns the live task names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := lo.Keys(r.tasks)
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Snapshot returns live entries (sorted by name) and recent history.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	hs := lo.Values(r.tasks)
	r.mu.Unlock()

	entries := lo.Map(hs, func(h *Handle, _ int) Entry {
		return Entry{Name: h.name, State: h.State(), ScheduledAt: h.scheduledAt, DueAt: h.DueAt()}
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	r.hmu.Lock()
	hist := append([]HistoryItem(nil), r.history...)
	r.hmu.Unlock()

	return Snapshot{Tasks: entries, History: hist}
}

// Stop rejects new schedules, cancels every live task and waits for their
// goroutines to exit or ctx to expire.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	hs := lo.Values(r.tasks)
	for _, h := range hs {
		delete(r.tasks, h.name)
		h.markCancelled()
	}
	r.mu.Unlock()

	for _, h := range hs {
		h.cancel(ErrCancelled)
	}
	if len(hs) > 0 {
		r.log.Info("registry stopping", logx.Int("cancelled", len(hs)))
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.log.Warn("registry stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (r *Registry) run(h *Handle, work Func, args []any) {
	defer r.wg.Done()

	var (
		result any
		err    error
		ran    bool
	)
	defer func() { r.finish(h, ran, result, err) }()

	timer := time.NewTimer(h.delay)
	select {
	case <-h.ctx.Done():
		timer.Stop()
		err = ErrCancelled
		return
	case <-timer.C:
	}
	if !h.begin() {
		err = ErrCancelled
		return
	}
	ran = true

	r.log.Debug("task started", logx.String("task", h.name))
	r.publish(EventStarted, h, StateRunning, h.StartedAt(), 0, nil)

	result, err = r.invoke(h, work, args)
}

func (r *Registry) invoke(h *Handle, work Func, args []any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
			r.log.Error("task panic", logx.String("task", h.name), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	return work(h.ctx, args...)
}

// finish runs on every exit path of run: it removes the entry if it still
// belongs to h, reports the outcome and closes Done.
func (r *Registry) finish(h *Handle, ran bool, result any, err error) {
	final := h.settle(result, err)

	r.mu.Lock()
	if cur, ok := r.tasks[h.name]; ok && cur == h {
		delete(r.tasks, h.name)
	}
	r.mu.Unlock()

	// Releases the context; a cancel cause set earlier is kept.
	h.cancel(nil)

	now := time.Now()
	started := h.StartedAt()
	var dur time.Duration
	if ran {
		dur = now.Sub(started)
	}
	r.record(HistoryItem{Name: h.name, State: final, Started: started, Finished: now, Duration: dur, Error: errString(err)})

	switch final {
	case StateCompleted:
		if dur >= 750*time.Millisecond {
			r.log.Info("task finished", logx.String("task", h.name), logx.Duration("dur", dur))
		} else {
			r.log.Debug("task finished", logx.String("task", h.name), logx.Duration("dur", dur))
		}
		r.publish(EventFinished, h, final, started, dur, nil)
	case StateFailed:
		r.log.Warn("task failed", logx.String("task", h.name), logx.Duration("dur", dur), logx.Err(err))
		r.publish(EventFailed, h, final, started, dur, err)
		if r.cfg.OnError != nil {
			r.cfg.OnError(h.name, err)
		}
	default:
		r.log.Debug("task cancelled", logx.String("task", h.name), logx.Bool("ran", ran))
		r.publish(EventCancelled, h, StateCancelled, started, dur, err)
	}

	close(h.done)
}

func (r *Registry) record(item HistoryItem) {
	if r.cfg.HistorySize < 0 {
		return
	}
	r.hmu.Lock()
	r.history = append(r.history, item)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
	r.hmu.Unlock()
}

func (r *Registry) publish(typ string, h *Handle, st State, started time.Time, dur time.Duration, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: TaskEvent{
		Name:        h.name,
		State:       st.String(),
		ScheduledAt: h.scheduledAt,
		Delay:       h.delay,
		Started:     started,
		Duration:    dur,
		Error:       errString(err),
	}})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
