package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dayong/internal/eventbus"
	"dayong/internal/task/delayed"
	logx "dayong/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:50", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
				assert.Equal(t, "@every "+tt.duration.String(), got.CronSpec())
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "01:75", "00:00", "interval:-5m", "cron:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@every 1m"))
	assert.NoError(t, Validate("02:30"))
	assert.Error(t, Validate("61 * * * *"))
	assert.Error(t, Validate("bogus"))
}

func newRegistry(t *testing.T) *delayed.Registry {
	t.Helper()
	r := delayed.New(delayed.Config{}, logx.Nop(), nil)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newRegistry(t), logx.Nop(), nil)
	work := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	assert.Error(t, s.Add(Def{Name: " ", Schedule: "1m", Work: work}))
	assert.Error(t, s.Add(Def{Name: "x", Schedule: "1m"}))
	assert.Error(t, s.Add(Def{Name: "x", Schedule: "61 * * * *", Work: work}))
	assert.Error(t, s.Add(Def{Name: "x", Schedule: "1m", Work: work, Delay: -time.Second}))

	require.NoError(t, s.Add(Def{Name: "x", Schedule: "*/5 * * * *", Work: work}))
	require.NoError(t, s.Add(Def{Name: "x", Schedule: "1m", Work: work}))
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, SpecInterval, entries[0].Kind)

	assert.True(t, s.Remove("x"))
	assert.False(t, s.Remove("x"))

	require.NoError(t, s.Add(Def{Name: "y ", Schedule: "1m", Work: work}))
	assert.Equal(t, []string{"y "}, s.Names())
	assert.False(t, s.Remove("y"))
	assert.True(t, s.Remove("y "))
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(Config{}, reg, logx.Nop(), bus)

	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Add(Def{Name: "sync", Schedule: "1h", Work: func(ctx context.Context, args ...any) (any, error) {
		runs.Add(1)
		<-release
		return nil, nil
	}}))

	require.NoError(t, s.Fire("sync"))
	require.ErrorIs(t, s.Fire("sync"), delayed.ErrDuplicateTask)

	s.mu.Lock()
	td := s.defs["sync"]
	s.mu.Unlock()
	s.tick(td)

	select {
	case e := <-ch:
		assert.Equal(t, EventSkipped, e.Type)
		assert.Equal(t, "sync", e.Data)
	case <-time.After(time.Second):
		t.Fatal("no skip event")
	}

	info := s.Entries()[0]
	assert.EqualValues(t, 1, info.Fired)
	assert.EqualValues(t, 1, info.Skipped)

	h, err := reg.Lookup("sync")
	require.NoError(t, err)
	close(release)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, runs.Load())

	// Name is free again.
	require.NoError(t, s.Fire("sync"))
}

func TestIntervalTriggerFires(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	s := New(Config{Timezone: "UTC"}, reg, logx.Nop(), nil)

	fired := make(chan any, 4)
	require.NoError(t, s.Add(Def{Name: "tick", Schedule: "1s", Args: []any{"payload"}, Work: func(ctx context.Context, args ...any) (any, error) {
		fired <- args[0]
		return nil, nil
	}}))
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case v := <-fired:
		assert.Equal(t, "payload", v)
	case <-time.After(3 * time.Second):
		t.Fatal("interval trigger did not fire")
	}
	assert.False(t, s.Entries()[0].Next.IsZero())
}

type failingRegistry struct{ calls atomic.Int32 }

func (f *failingRegistry) Schedule(delayed.Func, string, time.Duration, ...any) (string, *delayed.Handle, error) {
	f.calls.Add(1)
	return "", nil, assert.AnError
}

func TestScheduleFailuresCounted(t *testing.T) {
	t.Parallel()
	reg := &failingRegistry{}
	s := New(Config{}, reg, logx.Nop(), nil)
	require.NoError(t, s.Add(Def{Name: "f", Schedule: "1h", Work: func(ctx context.Context, args ...any) (any, error) { return nil, nil }}))

	s.mu.Lock()
	td := s.defs["f"]
	s.mu.Unlock()
	s.tick(td)
	s.tick(td)

	assert.EqualValues(t, 2, reg.calls.Load())
	info := s.Entries()[0]
	assert.EqualValues(t, 2, info.Failures)
	assert.Zero(t, info.Fired)
}
