package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is optional; nil or driver "none" disables the row store.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Client is optional; jobs of kind "fetch" require it.
	Client *ClientConfig `json:"client,omitempty"`

	Tasks TasksConfig `json:"tasks"`

	// Diagnostics is optional; it serves health, status and pprof over HTTP.
	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`
}

// DiagnosticsConfig controls the diagnostics HTTP server.
//
// Binding to a non-loopback address requires Token unless AllowInsecure is set.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile is the JSON file sink, rotated by size.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig controls the row store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/dayong.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RedisURL    string `json:"redis_url,omitempty"`    // do not log
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

// ClientConfig controls the HTTP content client.
type ClientConfig struct {
	BaseURL   string  `json:"base_url"`
	Token     string  `json:"token,omitempty"` // bearer token (do not log)
	UserAgent string  `json:"user_agent,omitempty"`
	Timeout   string  `json:"timeout,omitempty"` // Go duration string; default 15s
	RateLimit float64 `json:"rate_limit,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// TasksConfig controls the delayed-task registry and the configured jobs.
//
// Defaults (when fields are omitted/zero):
//   - history_size: 100
//   - timezone: local
//   - stop_timeout: "10s"
type TasksConfig struct {
	HistorySize int         `json:"history_size,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	StopTimeout string      `json:"stop_timeout,omitempty"`
	Jobs        []JobConfig `json:"jobs,omitempty"`
}

// JobConfig describes one task body and when to run it.
//
// Schedule empty means one-shot: the job runs once, Delay after start.
// Otherwise each trigger tick schedules the job with Delay.
type JobConfig struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // "fetch" | "prune"
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Delay    string `json:"delay,omitempty"`

	// fetch
	Path  string            `json:"path,omitempty"`
	Query map[string]string `json:"query,omitempty"`

	// fetch and prune
	ChannelID string `json:"channel_id,omitempty"`
	Source    string `json:"source,omitempty"`

	// prune
	MaxAge string `json:"max_age,omitempty"`
}

// IsEnabled reports whether the job should be registered (default true).
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

const (
	JobFetch = "fetch"
	JobPrune = "prune"
)
