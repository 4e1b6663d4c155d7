// Package probe implements an adaptive single-stream download throughput
// probe.
//
// A run streams a URL in small chunks, samples the cumulative byte count
// per chunk, and groups the samples into one-second buckets. The run ends
// at a hard wall-clock cap, on stream exhaustion, or early once the
// per-second rate plateaus (no recent bucket beats an earlier peak).
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "pewprobe/pkg/logx"
)

// ErrBadStatus marks a response the origin refused to serve, after the
// single referer fallback was already tried.
var ErrBadStatus = errors.New("unexpected response status")

// Runner executes throughput probes. Instances hold no per-run state and
// are safe for concurrent use; every Run owns its own sample sequence,
// stopwatch and response stream.
type Runner struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHTTPClient makes the runner reuse the provided client (and its
// connection pool) instead of building its own keep-alive transport.
func WithHTTPClient(hc *http.Client) Option { return func(r *Runner) { r.client = hc } }

// WithLogger routes the runner's completion/warning lines to log.
func WithLogger(log logx.Logger) Option { return func(r *Runner) { r.log = log } }

// NewRunner constructs a Runner.
func NewRunner(cfg Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg.withDefaults(), log: logx.Nop()}
	for _, o := range opts {
		o(r)
	}
	if r.client == nil {
		r.client = newHTTPClient()
	}
	return r
}

// Run probes rawURL and returns the aggregated result.
//
// An empty body is not an error: the result simply reports zero
// throughput. Connection failures and mid-stream read errors propagate;
// no partial result is synthesized for them.
func (r *Runner) Run(ctx context.Context, target, rawURL string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := r.cfg

	// The watchdog bounds the run even when Read blocks: a stalled
	// connection is cancelled after StallTimeout of silence, and
	// cap + grace is the absolute deadline.
	runCtx, wd := newWatchdog(ctx, cfg.StallTimeout, cfg.MaxDuration+cfg.CapGrace)
	defer wd.stop()

	resp, err := r.open(runCtx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	start := time.Now()
	s := newSampler(start)
	buf := make([]byte, cfg.ChunkSize)

	capMS := cfg.MaxDuration.Milliseconds()
	warmupMS := cfg.Warmup.Milliseconds()
	lastSecond := int64(-1)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			wd.kick()
			m := s.record(n)

			if m.ElapsedMS >= capMS {
				break
			}
			// Edge-triggered on the second counter: the plateau rule
			// runs at most once per newly-crossed second so a
			// half-filled current bucket never biases the decision.
			if sec := m.ElapsedMS / bucketSpanMS; sec != lastSecond {
				lastSecond = sec
				if m.ElapsedMS >= warmupMS && plateaued(bucketize(s.samples), sec) {
					r.log.Debug("throughput plateaued",
						logx.String("url", rawURL),
						logx.Int64("elapsed_ms", m.ElapsedMS),
					)
					break
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Surface the watchdog cause (stall/deadline) over the
			// opaque transport error when the cancellation was ours.
			if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				return nil, fmt.Errorf("read stream: %w", cause)
			}
			return nil, fmt.Errorf("read stream: %w", rerr)
		}
	}

	res := &Result{
		Timestamp:       time.Now(),
		Target:          target,
		URL:             rawURL,
		DownloadedBytes: s.total(),
		ElapsedMS:       time.Since(start).Milliseconds(),
		MaxRateMBps:     maxRate(bucketize(s.samples)),
	}

	if len(s.samples) == 0 {
		r.log.Warn("nothing downloaded", logx.String("url", rawURL))
		return res, nil
	}

	r.log.Info("probe finished",
		logx.String("url", rawURL),
		logx.Float64("downloaded_mb", res.DownloadedMB()),
		logx.Int64("elapsed_ms", res.ElapsedMS),
		logx.Float64("speed_mbps", res.MaxRateMBps),
	)
	return res, nil
}

// open issues the GET (headers only; the body stays unread) and applies
// the single referer fallback.
//
// Some origins reject direct or hotlinked fetches but serve the same
// resource when the request looks same-site-referred. If the first
// response is not successful, or the request was redirected away from the
// asked-for URL, retry exactly once with a Referer of the URL's parent
// directory. The header goes on the retried request only; the shared
// client's defaults are never mutated, so concurrent runs stay isolated.
func (r *Runner) open(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := r.get(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	if successful(resp) && resp.Request.URL.String() == rawURL {
		return resp, nil
	}
	drain(resp)

	resp, err = r.get(ctx, rawURL, parentDir(rawURL))
	if err != nil {
		return nil, err
	}
	if !successful(resp) {
		status := resp.Status
		drain(resp)
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, status)
	}
	return resp, nil
}

func (r *Runner) get(ctx context.Context, rawURL, referer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return r.client.Do(req)
}

func successful(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drain releases a response we won't stream, keeping the connection
// reusable for the retry.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32<<10))
	_ = resp.Body.Close()
}

// parentDir returns the URL one directory level up, query and fragment
// stripped, with a trailing slash.
func parentDir(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		u.Path = p[:i+1]
	} else {
		u.Path = "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func newHTTPClient() *http.Client {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          8,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}
