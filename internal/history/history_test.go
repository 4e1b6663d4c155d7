package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	cfg := Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "history.jsonl"),
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("expected a store")
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) should disable history", driver)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	r1 := &probe.Result{Timestamp: now.Add(-2 * time.Hour), Target: "cdn", URL: "https://example.com/a", DownloadedBytes: 10 * 1024 * 1024, ElapsedMS: 12000, MaxRateMBps: 12.5}
	r2 := &probe.Result{Timestamp: now.Add(-26 * time.Hour), Target: "cdn", URL: "https://example.com/a", DownloadedBytes: 5 * 1024 * 1024, ElapsedMS: 25000, MaxRateMBps: 4.0}
	for _, r := range []*probe.Result{r2, r1} {
		if err := st.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := st.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d results, want 2", len(recent))
	}
	// Newest first.
	if recent[0].MaxRateMBps != r1.MaxRateMBps {
		t.Fatalf("unexpected first recent result: %+v", recent[0])
	}

	stats, err := st.Stats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TestCount != 1 {
		t.Fatalf("TestCount = %d, want 1 (older record outside window)", stats.TestCount)
	}
	if stats.AvgRate != r1.MaxRateMBps || stats.MaxRate != r1.MaxRateMBps {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	removed, err := st.CleanOlderThan(ctx, 1)
	if err != nil {
		t.Fatalf("CleanOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	recent, err = st.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent after clean: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent after clean returned %d results, want 1", len(recent))
	}
}

func TestFileStoreStatsAggregates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rates := []float64{2, 8, 5}
	for i, rate := range rates {
		r := &probe.Result{
			Timestamp:       now.Add(-time.Duration(i) * time.Minute),
			URL:             "https://example.com/x",
			DownloadedBytes: 1024,
			ElapsedMS:       1000,
			MaxRateMBps:     rate,
		}
		if err := st.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats, err := st.Stats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TestCount != 3 {
		t.Fatalf("TestCount = %d, want 3", stats.TestCount)
	}
	if stats.MaxRate != 8 || stats.MinRate != 2 {
		t.Fatalf("Max/Min = %f/%f, want 8/2", stats.MaxRate, stats.MinRate)
	}
	if want := (2.0 + 8.0 + 5.0) / 3; stats.AvgRate != want {
		t.Fatalf("AvgRate = %f, want %f", stats.AvgRate, want)
	}
	if stats.TotalBytes != 3*1024 {
		t.Fatalf("TotalBytes = %d", stats.TotalBytes)
	}
}

func TestFileStoreCompactBounds(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	cfg := Config{Driver: "file", Path: path, MaxRecords: 10}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 25; i++ {
		r := &probe.Result{Timestamp: now.Add(-time.Duration(i) * time.Minute), URL: "u", MaxRateMBps: float64(i)}
		if err := st.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := st.CleanOlderThan(ctx, 30); err != nil {
		t.Fatalf("CleanOlderThan: %v", err)
	}
	recent, err := st.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("kept %d records, want MaxRecords=10", len(recent))
	}
}
