package probe

import "time"

const (
	// bytesPerMB is the MiB divisor used for all rate math.
	bytesPerMB = 1024 * 1024

	// bucketSpanMS is the fixed window used for per-second rates.
	bucketSpanMS = 1000
)

// Defaults for Config fields left zero.
const (
	DefaultMaxDuration  = 25 * time.Second
	DefaultChunkSize    = 2048
	DefaultWarmup       = 10 * time.Second
	DefaultStallTimeout = 10 * time.Second
	DefaultCapGrace     = 5 * time.Second
)

// Config controls a single probe run.
//
// All fields are optional; zero values fall back to the defaults above.
type Config struct {
	// MaxDuration is the hard wall-clock cap on the measurement loop.
	// It is always enforced, regardless of plateau state.
	MaxDuration time.Duration

	// ChunkSize is the read buffer size in bytes.
	ChunkSize int

	// Warmup is how long to measure before the plateau rule may fire.
	// Early samples are unreliable (TCP slow-start, connection variance).
	Warmup time.Duration

	// StallTimeout cancels the underlying request when no bytes arrive
	// for this long. A stalled connection would otherwise block a Read
	// past the hard cap indefinitely.
	StallTimeout time.Duration

	// CapGrace is added to MaxDuration for the absolute request deadline.
	// The cooperative cap check normally wins; the deadline is the backstop.
	CapGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Warmup <= 0 {
		c.Warmup = DefaultWarmup
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.CapGrace <= 0 {
		c.CapGrace = DefaultCapGrace
	}
	return c
}

// Result is a single probe measurement.
//
// IMPORTANT: JSON tags are kept stable because results are persisted to the
// history file (NDJSON). Changing tags can break existing history.
type Result struct {
	Timestamp       time.Time `json:"timestamp"`
	Target          string    `json:"target,omitempty"`
	URL             string    `json:"url"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	ElapsedMS       int64     `json:"elapsed_ms"`
	MaxRateMBps     float64   `json:"max_rate_mbps"`
}

// DownloadedMB reports the downloaded volume in MiB.
func (r *Result) DownloadedMB() float64 {
	return float64(r.DownloadedBytes) / bytesPerMB
}
