// Package delayed provides an in-process registry of named, delayed tasks.
//
// A task is scheduled under a caller-chosen name, sleeps for its delay, runs
// once, and is removed from the registry on every exit path (normal return,
// error, panic, cancellation). Callers refer to tasks by name only:
//
//	r := delayed.New(delayed.Config{}, log, bus)
//	_, h, err := r.Schedule(work, "reminder.42", 30*time.Second, chatID)
//	...
//	r.Cancel("reminder.42")
//
// Names are unique among live entries. Scheduling a live name fails with
// ErrDuplicateTask instead of replacing or queuing behind the existing task.
//
// Cancellation is cooperative. A Pending task never runs once cancelled. A
// Running task has its context cancelled (cause ErrCancelled); the registry
// drops the entry immediately and does not wait for the work to return.
//
// Errors and panics from work are stored on the Handle (Wait/Result), logged,
// published as "task.failed" on the event bus and passed to Config.OnError.
package delayed
