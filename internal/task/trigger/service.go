package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dayong/internal/eventbus"
	logx "dayong/pkg/logx"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether raw is a schedule Add would accept.
func Validate(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		_, err = cronParser.Parse(ps.Cron)
	}
	return err
}

// Service owns the cron runner and the registered triggers.
type Service struct {
	cfg Config
	reg Registry
	log logx.Logger
	bus eventbus.Bus

	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	loc  *time.Location
	defs map[string]*triggerDef

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, reg Registry, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		reg:      reg,
		log:      log.With(logx.String("comp", "trigger")),
		bus:      bus,
		parser:   cronParser,
		defs:     map[string]*triggerDef{},
		lastWarn: map[string]time.Time{},
	}
}

// Add registers d, replacing any trigger with the same name.
// The cron expression is validated even before Start.
func (s *Service) Add(d Def) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("trigger: name required")
	}
	if d.Work == nil {
		return fmt.Errorf("trigger %q: nil work", d.Name)
	}
	if d.Delay < 0 {
		return fmt.Errorf("trigger %q: negative delay", d.Name)
	}
	ps, err := ParseSchedule(d.Schedule)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", d.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("trigger %q: %w", d.Name, err)
		}
	}

	t := &triggerDef{def: d, spec: ps}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads don't duplicate triggers.
	s.removeLocked(d.Name)
	s.defs[d.Name] = t
	if s.c != nil {
		if err := s.registerLocked(t); err != nil {
			delete(s.defs, d.Name)
			return fmt.Errorf("trigger %q: %w", d.Name, err)
		}
	}
	s.log.Debug("trigger registered", logx.String("trigger", d.Name), logx.String("spec", ps.CronSpec()), logx.Duration("delay", d.Delay))
	return nil
}

// Remove unregisters the trigger. A run already scheduled into the registry
// is not affected.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(name)
	if removed {
		s.log.Debug("trigger removed", logx.String("trigger", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	t, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	delete(s.defs, name)
	return true
}

// Names returns the registered trigger names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for name := range s.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start starts cron triggering. It is a no-op if already started.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("triggers started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, t := range s.defs {
		if err := s.registerLocked(t); err != nil {
			s.log.Error("trigger register failed", logx.String("trigger", t.def.Name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop stops cron triggering and waits (bounded by ctx) for in-progress
// ticks. Definitions are kept so Start can resume them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, t := range s.defs {
		t.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

// Apply updates the config, restarting the runner on a timezone change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("triggers restarted", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

// Fire runs the trigger's tick immediately, outside its schedule.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	t, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("trigger %q not found", name)
	}
	_, _, err := s.reg.Schedule(t.def.Work, t.def.Name, t.def.Delay, t.def.Args...)
	if err == nil {
		t.fired.Add(1)
	}
	return err
}

// Entries returns registered triggers sorted by name.
func (s *Service) Entries() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, t := range s.defs {
		it := Info{
			Name:     t.def.Name,
			Spec:     t.spec.CronSpec(),
			Kind:     t.spec.Kind,
			Fired:    t.fired.Load(),
			Skipped:  t.skipped.Load(),
			Failures: t.failures.Load(),
		}
		if s.c != nil && t.entryID != 0 {
			e := s.c.Entry(t.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) registerLocked(t *triggerDef) error {
	job := cron.FuncJob(func() { s.tick(t) })

	if t.spec.Kind == SpecInterval {
		sched, jitter := intervalSchedule(t.spec.Every, time.Now().In(s.loc), t.def.Name, s.cfg.Spread)
		t.entryID = s.c.Schedule(sched, job)
		if jitter > 0 {
			s.log.Debug("interval spread applied", logx.String("trigger", t.def.Name), logx.Duration("jitter", jitter))
		}
		return nil
	}
	eid, err := s.c.AddJob(t.spec.Cron, job)
	if err != nil {
		return err
	}
	t.entryID = eid
	return nil
}

func (s *Service) tick(t *triggerDef) {
	_, _, err := s.reg.Schedule(t.def.Work, t.def.Name, t.def.Delay, t.def.Args...)
	if err != nil {
		s.reportScheduleError(t, err)
		return
	}
	t.fired.Add(1)
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
