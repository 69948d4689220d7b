package trigger

import (
	"errors"
	"time"

	"dayong/internal/eventbus"
	"dayong/internal/task/delayed"
	logx "dayong/pkg/logx"
)

const scheduleWarnThrottle = 5 * time.Second

func (s *Service) reportScheduleError(t *triggerDef, err error) {
	if err == nil {
		return
	}
	name := t.def.Name
	switch {
	case errors.Is(err, delayed.ErrDuplicateTask):
		// Previous run still live; this is the overlap policy, not a fault.
		t.skipped.Add(1)
		s.log.Debug("trigger skipped", logx.String("trigger", name), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventSkipped, Data: name})
		}
		return
	case errors.Is(err, delayed.ErrClosed):
		s.log.Debug("trigger fired after registry stop", logx.String("trigger", name))
		return
	}

	t.failures.Add(1)
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < scheduleWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()

	s.log.Warn("trigger failed to schedule task", logx.String("trigger", name), logx.Err(err))
}
