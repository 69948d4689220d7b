package trigger

import (
	"sync/atomic"
	"time"

	"dayong/internal/task/delayed"

	"github.com/robfig/cron/v3"
)

// Registry is the part of *delayed.Registry a trigger needs.
type Registry interface {
	Schedule(work delayed.Func, name string, delay time.Duration, args ...any) (string, *delayed.Handle, error)
}

// Config controls trigger behavior.
type Config struct {
	// Timezone for cron expressions; empty means local.
	Timezone string
	// Spread delays the first run of interval triggers by a random jitter
	// (up to min(interval, 30s)).
	Spread bool
}

// Def describes one recurring trigger.
type Def struct {
	// Name is both the trigger name and the registry task name for each run.
	Name string
	// Schedule is parsed with ParseSchedule.
	Schedule string
	// Delay is passed to the registry on every tick.
	Delay time.Duration
	Work  delayed.Func
	Args  []any
}

// Info describes a registered trigger.
type Info struct {
	Name     string
	Spec     string
	Kind     SpecKind
	Next     time.Time
	Prev     time.Time
	Fired    uint64
	Skipped  uint64
	Failures uint64
}

// Event type published when a tick is skipped because the previous run is live.
const EventSkipped = "trigger.skipped"

type triggerDef struct {
	def     Def
	spec    ParsedSpec
	entryID cron.EntryID

	fired    atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}
