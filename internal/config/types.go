package config

import (
	"fmt"
	"strings"
	"time"

	"pewprobe/pkg/urlnorm"
)

// Config is the daemon configuration. JSON is the native format; YAML is
// accepted by coercion (see yaml.go).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Probe tunes the measurement core.
	Probe ProbeConfig `json:"probe"`

	// Targets are the URLs to measure. When empty, the daemon discovers
	// the nearest speedtest.net server at run time.
	Targets []TargetConfig `json:"targets,omitempty"`

	// Schedule drives periodic probes in daemon mode.
	Schedule ScheduleConfig `json:"schedule"`

	History HistoryConfig `json:"history,omitempty"`
	Notify  *NotifyConfig `json:"notify,omitempty"`
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

// ProbeConfig tunes a probe run.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_duration: "25s"
//   - chunk_size: 2048
//   - stall_timeout: "10s"
type ProbeConfig struct {
	MaxDuration  string `json:"max_duration,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	StallTimeout string `json:"stall_timeout,omitempty"`
}

func (p ProbeConfig) MaxDurationValue() (time.Duration, error) {
	return ParseDurationOrDefault("probe.max_duration", p.MaxDuration, 25*time.Second)
}

func (p ProbeConfig) StallTimeoutValue() (time.Duration, error) {
	return ParseDurationOrDefault("probe.stall_timeout", p.StallTimeout, 10*time.Second)
}

// TargetConfig names one URL to probe. URL goes through urlnorm.Normalize
// at validation, so base64/scheme-less forms are accepted.
type TargetConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ScheduleConfig controls periodic probing.
//
// Spec accepts a cron expression ("*/30 * * * *", "@hourly"), a Go
// duration ("45m"), or HH:MM — see internal/sched.
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// HistoryConfig controls result persistence.
//
// Driver values:
//   - "" or "none": history disabled
//   - "file": NDJSON file
//   - "sqlite": SQLite database (build with -tags sqlite)
type HistoryConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxRecords  int    `json:"max_records,omitempty"`
	MaxAgeDays  int    `json:"max_age_days,omitempty"`
}

// NotifyConfig pushes completed results to a Telegram chat.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
}

// Validate checks cross-field constraints and normalizes target URLs
// in place. It is also installed as the Manager's reload validator.
func (c *Config) Validate() error {
	if _, err := c.Probe.MaxDurationValue(); err != nil {
		return err
	}
	if _, err := c.Probe.StallTimeoutValue(); err != nil {
		return err
	}
	if c.Probe.ChunkSize < 0 {
		return fmt.Errorf("probe.chunk_size must be >= 0")
	}

	seen := map[string]bool{}
	for i := range c.Targets {
		t := &c.Targets[i]
		t.URL = urlnorm.Normalize(t.URL)
		if t.URL == "" {
			return fmt.Errorf("targets[%d]: url is required", i)
		}
		if t.Name == "" {
			t.Name = urlnorm.FileNameFromURL(t.URL)
		}
		if seen[t.Name] {
			return fmt.Errorf("targets[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
	}

	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		return fmt.Errorf("schedule.spec is required when schedule.enabled")
	}

	if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
		return err
	}

	if n := c.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return fmt.Errorf("notify.token is required when notify.enabled")
		}
		if n.ChatID == 0 {
			return fmt.Errorf("notify.chat_id is required when notify.enabled")
		}
	}
	return nil
}
