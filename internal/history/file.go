package history

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
)

type record struct {
	V  int    `json:"v"`
	ID string `json:"id"`
	probe.Result
}

func newRecordID(ts time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	r := binary.BigEndian.Uint32(b[:])
	return fmt.Sprintf("%x-%08x", ts.UnixNano(), r)
}

// fileStore persists probe results to a JSONL/NDJSON file.
//
// It is safe for concurrent use.
type fileStore struct {
	cfg Config
	log logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history.path is required for file driver")
	}
	return &fileStore{cfg: cfg, log: log}, nil
}

func (h *fileStore) Close() error { return nil }

// Append adds a new result to the history file.
//
// When the file grows beyond MaxBytes, it is compacted best-effort.
func (h *fileStore) Append(ctx context.Context, result *probe.Result) error {
	if result == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Ensure directory exists.
	if dir := filepath.Dir(h.cfg.Path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	rec := record{V: schemaVersion, ID: newRecordID(result.Timestamp), Result: *result}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	f, err := os.OpenFile(h.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	_, werr := f.Write(append(b, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append history record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close history file: %w", cerr)
	}

	// Best-effort auto-compact.
	if h.cfg.MaxBytes > 0 {
		if st, err := os.Stat(h.cfg.Path); err == nil && st.Size() > h.cfg.MaxBytes {
			_, _ = h.compactLocked(time.Now(), h.cfg.MaxAgeDays)
		}
	}
	return nil
}

// Recent returns the most recent n results (newest first).
func (h *fileStore) Recent(ctx context.Context, n int) ([]probe.Result, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > 50 {
		n = 50
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring buffer over the tail of the file.
	buf := make([]probe.Result, 0, n)
	idx := 0
	full := false

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if len(buf) < n {
			buf = append(buf, rec.Result)
			continue
		}
		buf[idx] = rec.Result
		idx = (idx + 1) % n
		full = true
	}

	ordered := buf
	if full {
		ordered = append([]probe.Result(nil), buf[idx:]...)
		ordered = append(ordered, buf[:idx]...)
	}
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered, nil
}

// Stats computes rolling statistics over the trailing window.
//
// A missing file is "no data", not an error.
func (h *fileStore) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	stats := &Stats{Window: window}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-window)

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		stats.observe(&rec.Result)
	}
	stats.finish()
	return stats, nil
}

// CleanOlderThan removes results older than the given number of days and
// returns how many records were removed.
func (h *fileStore) CleanOlderThan(ctx context.Context, days int) (int, error) {
	if days < 1 {
		days = 1
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compactLocked(time.Now(), days)
}

func (h *fileStore) compactLocked(now time.Time, keepDays int) (int, error) {
	if keepDays < 1 {
		keepDays = 1
	}
	maxRecords := h.cfg.MaxRecords
	cutoff := now.Add(-time.Duration(keepDays) * 24 * time.Hour)

	f, err := os.Open(h.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	kept := make([]record, 0, maxRecords)
	idx := 0
	full := false
	total := 0

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		total++
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if len(kept) < maxRecords {
			kept = append(kept, rec)
			continue
		}
		kept[idx] = rec
		idx = (idx + 1) % maxRecords
		full = true
	}

	ordered := kept
	if full {
		ordered = append([]record(nil), kept[idx:]...)
		ordered = append(ordered, kept[:idx]...)
	}

	tmp := h.cfg.Path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open temp history file: %w", err)
	}
	bw := bufio.NewWriter(out)
	for _, rec := range ordered {
		if rec.V == 0 {
			rec.V = schemaVersion
		}
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		_, _ = bw.Write(b)
		_ = bw.WriteByte('\n')
	}
	_ = bw.Flush()
	_ = out.Sync()
	if cerr := out.Close(); cerr != nil {
		return 0, fmt.Errorf("close temp history file: %w", cerr)
	}
	if err := os.Rename(tmp, h.cfg.Path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replace history file: %w", err)
	}

	removed := total - len(ordered)
	if removed < 0 {
		removed = 0
	}
	return removed, nil
}
