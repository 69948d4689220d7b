package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dayong/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes tokens or redis URLs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oldS, newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.redis_set", strings.TrimSpace(newS.RedisURL) != ""),
		)
	}

	oldC, newC := derefClient(oldCfg.Client), derefClient(newCfg.Client)
	if !reflect.DeepEqual(oldC, newC) {
		changed = append(changed, "client")
		attrs = append(attrs,
			logx.String("client.base_url", newC.BaseURL),
			logx.Bool("client.token_set", newC.Token != ""),
			logx.Any("client.rate_limit", newC.RateLimit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.history_size", newCfg.Tasks.HistorySize),
			logx.String("tasks.timezone", newCfg.Tasks.Timezone),
			logx.Int("tasks.jobs", len(newCfg.Tasks.Jobs)),
		)
	}

	oldD, newD := derefDiagnostics(oldCfg.Diagnostics), derefDiagnostics(newCfg.Diagnostics)
	if !reflect.DeepEqual(oldD, newD) {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newD.Enabled),
			logx.String("diagnostics.addr", newD.Addr),
			logx.Bool("diagnostics.token_set", newD.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefClient(c *ClientConfig) ClientConfig {
	if c == nil {
		return ClientConfig{}
	}
	return *c
}

func derefDiagnostics(d *DiagnosticsConfig) DiagnosticsConfig {
	if d == nil {
		return DiagnosticsConfig{}
	}
	return *d
}
