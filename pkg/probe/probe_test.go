package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "pewprobe/pkg/logx"
)

func testRunner(cfg Config) *Runner {
	return NewRunner(cfg, WithLogger(logx.Nop()))
}

func TestRunEmptyBodyYieldsZeroResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := testRunner(Config{MaxDuration: 2 * time.Second}).Run(context.Background(), "", srv.URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DownloadedBytes != 0 || res.MaxRateMBps != 0 {
		t.Fatalf("expected zero result, got bytes=%d rate=%f", res.DownloadedBytes, res.MaxRateMBps)
	}
	if res.ElapsedMS > 1000 {
		t.Fatalf("empty body took %d ms", res.ElapsedMS)
	}
}

func TestRunHardCap(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _ := w.(http.Flusher)
		chunk := make([]byte, 16*1024)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if f != nil {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	cfg := Config{MaxDuration: 500 * time.Millisecond}
	res, err := testRunner(cfg).Run(context.Background(), "", srv.URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DownloadedBytes == 0 {
		t.Fatal("expected bytes to be downloaded")
	}
	// Allow one chunk-read's worth of slop past the cap.
	if res.ElapsedMS < 500 || res.ElapsedMS > 2000 {
		t.Fatalf("elapsed = %d ms, want ~500", res.ElapsedMS)
	}
	if res.DownloadedBytes != int64(res.DownloadedMB()*bytesPerMB) {
		t.Fatalf("DownloadedMB inconsistent: %f vs %d bytes", res.DownloadedMB(), res.DownloadedBytes)
	}
}

func TestRunRefererFallback(t *testing.T) {
	t.Parallel()
	var sawReferer atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/files/big.bin", func(w http.ResponseWriter, r *http.Request) {
		ref := r.Header.Get("Referer")
		if ref == "" {
			http.Error(w, "hotlink denied", http.StatusForbidden)
			return
		}
		sawReferer.Store(ref)
		_, _ = w.Write(make([]byte, 64*1024))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	target := srv.URL + "/files/big.bin"
	res, err := testRunner(Config{MaxDuration: 2 * time.Second}).Run(context.Background(), "", target)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DownloadedBytes != 64*1024 {
		t.Fatalf("downloaded %d bytes, want %d", res.DownloadedBytes, 64*1024)
	}
	ref, _ := sawReferer.Load().(string)
	if want := srv.URL + "/files/"; ref != want {
		t.Fatalf("Referer = %q, want %q", ref, want)
	}
}

func TestRunRedirectTriggersFallback(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/asset", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") == "" {
			// Hotlink protection that bounces direct fetches elsewhere.
			http.Redirect(w, r, "/blocked", http.StatusFound)
			return
		}
		_, _ = w.Write(make([]byte, 4096))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "nope")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := testRunner(Config{MaxDuration: 2 * time.Second}).Run(context.Background(), "", srv.URL+"/asset")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DownloadedBytes != 4096 {
		t.Fatalf("downloaded %d bytes, want 4096 (fallback should fetch the real asset)", res.DownloadedBytes)
	}
}

func TestRunBadStatusAfterFallback(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testRunner(Config{MaxDuration: 2 * time.Second}).Run(context.Background(), "", srv.URL+"/x")
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err = %v, want ErrBadStatus", err)
	}
	// Exactly one fallback attempt, never more.
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hit %d times, want 2", got)
	}
}

func TestRunStreamErrorPropagates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more than we deliver; the client sees an unexpected EOF.
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	res, err := testRunner(Config{MaxDuration: 2 * time.Second}).Run(context.Background(), "", srv.URL)
	if err == nil {
		t.Fatal("expected mid-stream error")
	}
	if res != nil {
		t.Fatalf("no partial result expected, got %+v", res)
	}
	if !strings.Contains(err.Error(), "read stream") {
		t.Fatalf("err = %v, want a read stream error", err)
	}
}

func TestRunStallCancelledByWatchdog(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _ := w.(http.Flusher)
		_, _ = w.Write(make([]byte, 2048))
		if f != nil {
			f.Flush()
		}
		// Go quiet without closing; only cancellation ends this.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := Config{MaxDuration: 10 * time.Second, StallTimeout: 300 * time.Millisecond}
	start := time.Now()
	_, err := testRunner(cfg).Run(context.Background(), "", srv.URL)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("err = %v, want os.ErrDeadlineExceeded", err)
	}
	if took := time.Since(start); took > 3*time.Second {
		t.Fatalf("stall cancellation took %v", took)
	}
}

func TestRunPlateauStopsEarly(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _ := w.(http.Flusher)
		start := time.Now()
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-tick.C:
			}
			// Fast for the first two seconds, then a trickle.
			size := 64 * 1024
			if time.Since(start) > 2*time.Second {
				size = 1024
			}
			if _, err := w.Write(make([]byte, size)); err != nil {
				return
			}
			if f != nil {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	cfg := Config{MaxDuration: 20 * time.Second, Warmup: 2 * time.Second}
	start := time.Now()
	res, err := testRunner(cfg).Run(context.Background(), "dummy", srv.URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if took := time.Since(start); took > 10*time.Second {
		t.Fatalf("expected plateau stop well before the cap, ran %v", took)
	}
	if res.MaxRateMBps <= 0 {
		t.Fatalf("MaxRateMBps = %f, want > 0", res.MaxRateMBps)
	}
	if res.Target != "dummy" {
		t.Fatalf("Target = %q, want dummy", res.Target)
	}
}

func TestParentDir(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"https://example.com/a/b/file.bin", "https://example.com/a/b/"},
		{"https://example.com/a/b/", "https://example.com/a/"},
		{"https://example.com/file.bin?x=1", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		if got := parentDir(tt.in); got != tt.want {
			t.Fatalf("parentDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
