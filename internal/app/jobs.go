package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dayong/internal/config"
	"dayong/internal/jobs"
	"dayong/internal/observability/diag"
	"dayong/internal/task/delayed"
	"dayong/internal/task/trigger"
	logx "dayong/pkg/logx"
)

// syncJobs makes the registered triggers match cfg.Tasks.Jobs.
//
// Recurring jobs are upserted into the trigger service and triggers whose job
// is gone or disabled are removed. One-shot jobs (no schedule) are scheduled
// into the registry once per process; a reload does not re-run them.
func (a *App) syncJobs(cfg *config.Config) error {
	deps := jobs.Deps{
		Store:  a.store,
		Client: a.client,
		Log:    a.log.With(logx.String("comp", "jobs")),
	}

	var errs []error
	wanted := map[string]bool{}
	for _, jc := range cfg.Tasks.Jobs {
		name := strings.TrimSpace(jc.Name)
		if !jc.IsEnabled() {
			a.log.Debug("job disabled", logx.String("job", name))
			continue
		}
		body, err := jobs.Build(jc, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, err))
			continue
		}
		delay, err := config.ParseDurationField("delay", jc.Delay)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, err))
			continue
		}

		if strings.TrimSpace(jc.Schedule) == "" {
			if err := a.scheduleOnce(name, delay, body); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		wanted[name] = true
		if err := a.triggers.Add(trigger.Def{Name: name, Schedule: jc.Schedule, Delay: delay, Work: body}); err != nil {
			errs = append(errs, err)
		}
	}

	for _, name := range a.triggers.Names() {
		if !wanted[name] {
			a.triggers.Remove(name)
		}
	}
	return errors.Join(errs...)
}

// scheduleOnce marks a one-shot job done only once the registry accepted it,
// so a failed attempt is retried on the next reload.
func (a *App) scheduleOnce(name string, delay time.Duration, body delayed.Func) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.oneShots[name] {
		return nil
	}
	if _, _, err := a.reg.Schedule(body, name, delay); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	a.oneShots[name] = true
	a.log.Info("one-shot job scheduled", logx.String("job", name), logx.Duration("delay", delay))
	return nil
}

// validate rejects what config.Validate cannot see: schedules the trigger
// service would refuse and an unsafe diagnostics bind.
func validate(cfg *config.Config) error {
	var errs []error
	if dc, ok := mapDiagConfig(cfg); ok {
		if err := diag.CheckBind(dc); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics: %w", err))
		}
	}
	for _, jc := range cfg.Tasks.Jobs {
		if strings.TrimSpace(jc.Schedule) == "" {
			continue
		}
		if err := trigger.Validate(jc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %q: schedule: %w", jc.Name, err))
		}
	}
	return errors.Join(errs...)
}
