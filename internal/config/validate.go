package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks the parts of cfg that can be checked without building
// components. It reports every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3", "file":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		case "redis":
			if strings.TrimSpace(s.RedisURL) == "" {
				errs = append(errs, errors.New("storage.redis_url is required for driver \"redis\""))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if c := cfg.Client; c != nil {
		if strings.TrimSpace(c.BaseURL) == "" {
			errs = append(errs, errors.New("client.base_url is required"))
		}
		if _, err := ParseDurationField("client.timeout", c.Timeout); err != nil {
			errs = append(errs, err)
		}
		if c.RateLimit < 0 {
			errs = append(errs, errors.New("client.rate_limit must be >= 0"))
		}
	}

	if tz := strings.TrimSpace(cfg.Tasks.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("tasks.timezone: %w", err))
		}
	}
	if _, err := ParseDurationField("tasks.stop_timeout", cfg.Tasks.StopTimeout); err != nil {
		errs = append(errs, err)
	}

	if d := cfg.Diagnostics; d != nil && d.Enabled {
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("diagnostics.addr: %w", err))
			}
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Tasks.Jobs {
		path := fmt.Sprintf("tasks.jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate job %q", path, name))
		}
		seen[name] = true

		switch j.Kind {
		case JobFetch:
			if strings.TrimSpace(j.Path) == "" {
				errs = append(errs, fmt.Errorf("%s.path is required for fetch", path))
			}
			if j.IsEnabled() && cfg.Client == nil {
				errs = append(errs, fmt.Errorf("%s: fetch requires a client section", path))
			}
		case JobPrune:
			d, err := ParseDurationField(path+".max_age", j.MaxAge)
			if err != nil {
				errs = append(errs, err)
			} else if d == 0 {
				errs = append(errs, fmt.Errorf("%s.max_age is required for prune", path))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.kind: unknown kind %q", path, j.Kind))
		}
		if _, err := ParseDurationField(path+".delay", j.Delay); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
