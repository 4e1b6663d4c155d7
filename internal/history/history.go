// Package history persists completed probe results and answers simple
// queries over them (recent runs, rolling statistics, retention cleanup).
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
)

var ErrDisabled = errors.New("history disabled")

// NDJSON history schema version.
const schemaVersion = 1

const (
	DefaultMaxRecords = 2000
	DefaultMaxAgeDays = 90
	DefaultMaxBytes   = 2 * 1024 * 1024 // 2MB
)

// Config configures history persistence.
//
// Driver values:
//   - "file": NDJSON file (no extra dependencies)
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxRecords  int
	MaxAgeDays  int
	MaxBytes    int64 // file only; compaction threshold
}

func (c Config) withDefaults() Config {
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultMaxAgeDays
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

// Store is the persistence API used by the app layer.
type Store interface {
	Append(ctx context.Context, r *probe.Result) error
	Recent(ctx context.Context, n int) ([]probe.Result, error)
	Stats(ctx context.Context, window time.Duration) (*Stats, error)
	CleanOlderThan(ctx context.Context, days int) (int, error)
	Close() error
}

// Stats summarizes the results inside a trailing window.
type Stats struct {
	Window     time.Duration `json:"window"`
	TestCount  int           `json:"test_count"`
	AvgRate    float64       `json:"avg_rate_mbps"`
	MaxRate    float64       `json:"max_rate_mbps"`
	MinRate    float64       `json:"min_rate_mbps"`
	TotalBytes int64         `json:"total_bytes"`
	FirstTest  time.Time     `json:"first_test"`
	LastTest   time.Time     `json:"last_test"`
}

func (s *Stats) observe(r *probe.Result) {
	s.TestCount++
	s.TotalBytes += r.DownloadedBytes
	s.AvgRate += r.MaxRateMBps // running sum; finalized in finish()
	if s.TestCount == 1 {
		s.MaxRate = r.MaxRateMBps
		s.MinRate = r.MaxRateMBps
		s.FirstTest = r.Timestamp
		s.LastTest = r.Timestamp
		return
	}
	if r.MaxRateMBps > s.MaxRate {
		s.MaxRate = r.MaxRateMBps
	}
	if r.MaxRateMBps < s.MinRate {
		s.MinRate = r.MaxRateMBps
	}
	if r.Timestamp.Before(s.FirstTest) {
		s.FirstTest = r.Timestamp
	}
	if r.Timestamp.After(s.LastTest) {
		s.LastTest = r.Timestamp
	}
}

func (s *Stats) finish() {
	if s.TestCount > 0 {
		s.AvgRate /= float64(s.TestCount)
	}
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
