package notify

import (
	"strings"
	"testing"
	"time"

	"pewprobe/pkg/probe"
)

func TestFormatResult(t *testing.T) {
	t.Parallel()
	r := &probe.Result{
		Timestamp:       time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		Target:          "cdn",
		URL:             "https://example.com/big.bin",
		DownloadedBytes: 50 * 1024 * 1024,
		ElapsedMS:       12500,
		MaxRateMBps:     8.25,
	}
	msg := FormatResult(r)
	for _, want := range []string{"cdn", "8.25 MB/s", "50.00 MB", "12.5s", "2026-08-01 12:30:00"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatResultEmpty(t *testing.T) {
	t.Parallel()
	r := &probe.Result{URL: "https://example.com/x", ElapsedMS: 40}
	msg := FormatResult(r)
	if !strings.Contains(msg, "Nothing was downloaded") {
		t.Fatalf("empty result message wrong:\n%s", msg)
	}
	// Falls back to the URL when the target has no name.
	if !strings.Contains(msg, "https://example.com/x") {
		t.Fatalf("message missing URL fallback:\n%s", msg)
	}
}
