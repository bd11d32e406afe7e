package config

import (
	"strings"
	"time"
)

const (
	FailureModeCrash  = "crash"
	FailureModeReport = "report"

	JobTypeCommand   = "command"
	JobTypeHeartbeat = "heartbeat"
)

type Config struct {
	Host    HostConfig     `json:"host"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Alerts  AlertsConfig   `json:"alerts,omitempty"`
	Admin   *AdminConfig   `json:"admin,omitempty"`

	// Jobs are registered in list order, which is also the order the
	// scheduler evaluates them on every tick.
	Jobs []JobConfig `json:"jobs"`
}

// HostConfig controls the scheduler host.
//
// Defaults (when fields are omitted/zero):
//   - name: "cronhost"
//   - tick: "1m"
//   - timezone: local time
//   - drain_timeout: "0s" (wait for running jobs forever)
//   - failure_mode: "crash"
type HostConfig struct {
	Name     string `json:"name,omitempty"`
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	DrainTimeout string `json:"drain_timeout,omitempty"`

	// FailureMode is "crash" (an unhandled job error terminates the process)
	// or "report" (errors are logged, journaled and alerted).
	FailureMode string `json:"failure_mode,omitempty"`
}

// Location resolves Timezone. Empty means time.Local.
func (h HostConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(h.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (h HostConfig) Mode() string {
	if m := strings.ToLower(strings.TrimSpace(h.FailureMode)); m != "" {
		return m
	}
	return FailureModeCrash
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the run journal. Nil disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cronhost.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type AlertsConfig struct {
	Telegram *TelegramAlertConfig `json:"telegram,omitempty"`
}

// TelegramAlertConfig sends a message for every failed job run.
type TelegramAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// URL overrides the Bot API endpoint (self-hosted Bot API servers).
	URL string `json:"url,omitempty"`
	// RatePerMin caps alerts per minute; default 20.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// JobConfig is one configured job. Schedule empty means a basic job that runs
// once at start.
// AdminConfig controls the local admin HTTP server (status, health, pprof).
//
// A non-loopback addr requires a token unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type JobConfig struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Schedule string `json:"schedule,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`

	// CleanupOnFinish defaults to true.
	CleanupOnFinish *bool `json:"cleanup_on_finish,omitempty"`

	// command jobs
	Command string            `json:"command,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty"`

	// heartbeat jobs
	Interval string `json:"interval,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Enabled returns jobs that are not disabled, in configured order.
func (c *Config) Enabled() []JobConfig {
	out := make([]JobConfig, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		if !j.Disabled {
			out = append(out, j)
		}
	}
	return out
}
