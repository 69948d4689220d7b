package app

import (
	"fmt"
	"strings"
	"time"

	"dayong/internal/client"
	"dayong/internal/config"
	"dayong/internal/observability/diag"
	"dayong/internal/storage"
	"dayong/internal/task/delayed"
	"dayong/internal/task/trigger"
	logx "dayong/pkg/logx"
)

const defaultStopTimeout = 10 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	}
}

// mapStorageConfig reports ok=false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "redis":
		return storage.Config{Driver: driver, RedisURL: strings.TrimSpace(sc.RedisURL), RedisPrefix: sc.RedisPrefix}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapClientConfig reports ok=false when no client section is present.
func mapClientConfig(cfg *config.Config) (client.Config, bool, error) {
	if cfg == nil || cfg.Client == nil {
		return client.Config{}, false, nil
	}
	cc := cfg.Client
	timeout, err := config.ParseDurationOrDefault("client.timeout", cc.Timeout, 15*time.Second)
	if err != nil {
		return client.Config{}, false, err
	}
	return client.Config{
		BaseURL:   strings.TrimSpace(cc.BaseURL),
		Token:     cc.Token,
		UserAgent: cc.UserAgent,
		Timeout:   timeout,
		RateLimit: cc.RateLimit,
		Burst:     cc.Burst,
	}, true, nil
}

func mapRegistryConfig(cfg *config.Config) delayed.Config {
	return delayed.Config{HistorySize: cfg.Tasks.HistorySize}
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{Timezone: strings.TrimSpace(cfg.Tasks.Timezone), Spread: true}
}

func stopTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return defaultStopTimeout
	}
	d, err := config.ParseDurationOrDefault("tasks.stop_timeout", cfg.Tasks.StopTimeout, defaultStopTimeout)
	if err != nil {
		return defaultStopTimeout
	}
	return d
}

// mapDiagConfig reports ok=false when diagnostics are disabled.
func mapDiagConfig(cfg *config.Config) (diag.Config, bool) {
	if cfg == nil || cfg.Diagnostics == nil || !cfg.Diagnostics.Enabled {
		return diag.Config{}, false
	}
	d := cfg.Diagnostics
	return diag.Config{Addr: strings.TrimSpace(d.Addr), Token: d.Token, AllowInsecure: d.AllowInsecure}, true
}
