// Package app wires config, logging, history, notification and the probe
// core into the one-shot and daemon entrypoints.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pewprobe/internal/config"
	"pewprobe/internal/history"
	"pewprobe/internal/notify"
	"pewprobe/internal/sched"
	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
	"pewprobe/pkg/urlnorm"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    history.Store
	notifier *notify.Service
	sched    *sched.Runner

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New loads and validates the config and builds all services.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log)
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	busy, _ := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	store, err := history.Open(history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
		MaxRecords:  cfg.History.MaxRecords,
		MaxAgeDays:  cfg.History.MaxAgeDays,
	}, log.With(logx.String("svc", "history")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	var notifier *notify.Service
	if n := cfg.Notify; n != nil {
		notifier, err = notify.New(notify.Config{
			Enabled:    n.Enabled,
			Token:      n.Token,
			ChatID:     n.ChatID,
			ThreadID:   n.ThreadID,
			RatePerSec: n.RatePerSec,
			QueueSize:  n.QueueSize,
		}, log.With(logx.String("svc", "notify")))
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			_ = logSvc.Close()
			return nil, fmt.Errorf("init notifier: %w", err)
		}
	}

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		notifier: notifier,
	}, nil
}

func (a *App) runner() *probe.Runner {
	cfg := a.cfgMgr.Get()
	pc := probe.Config{}
	if cfg != nil {
		// Validate() already vetted these; parse errors fall back to defaults.
		pc.MaxDuration, _ = cfg.Probe.MaxDurationValue()
		pc.StallTimeout, _ = cfg.Probe.StallTimeoutValue()
		pc.ChunkSize = cfg.Probe.ChunkSize
	}
	return probe.NewRunner(pc, probe.WithLogger(a.log.With(logx.String("svc", "probe"))))
}

// targets resolves the round's probe targets, discovering a nearby
// speedtest server when none are configured.
func (a *App) targets(ctx context.Context) ([]config.TargetConfig, error) {
	cfg := a.cfgMgr.Get()
	if cfg != nil && len(cfg.Targets) > 0 {
		return cfg.Targets, nil
	}

	a.log.Debug("no targets configured; discovering nearest server")
	u, err := probe.DiscoverURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover probe target: %w", err)
	}
	return []config.TargetConfig{{Name: "auto", URL: urlnorm.Normalize(u)}}, nil
}

// RunOnce performs a single probe round and prints a summary per target.
//
// rawURL, when non-empty, overrides the configured targets. outPath,
// when non-empty, receives the results as JSON (a directory path derives
// the filename from the first target URL).
func (a *App) RunOnce(ctx context.Context, rawURL, outPath string) error {
	if a.notifier != nil {
		a.notifier.Start(ctx)
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.notifier.Stop(dctx)
		}()
	}

	var (
		targets []config.TargetConfig
		err     error
	)
	if rawURL != "" {
		u := urlnorm.Normalize(rawURL)
		targets = []config.TargetConfig{{Name: urlnorm.FileNameFromURL(u), URL: u}}
	} else {
		targets, err = a.targets(ctx)
		if err != nil {
			return err
		}
	}

	results, err := a.probeRound(ctx, targets)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Printf("%s: %.2f MB in %.1fs, peak %.2f MB/s\n",
			r.Target, r.DownloadedMB(), float64(r.ElapsedMS)/1000, r.MaxRateMBps)
	}

	if outPath != "" && len(results) > 0 {
		path, err := a.exportResults(outPath, results)
		if err != nil {
			return err
		}
		a.log.Info("results exported", logx.String("path", path))
	}
	return nil
}

// probeRound measures each target sequentially (parallel streams would
// contend for the same uplink and skew each other's rates), persisting
// and pushing every result.
func (a *App) probeRound(ctx context.Context, targets []config.TargetConfig) ([]*probe.Result, error) {
	runner := a.runner()
	results := make([]*probe.Result, 0, len(targets))
	var firstErr error

	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		res, err := runner.Run(ctx, t.Name, t.URL)
		if err != nil {
			a.log.Error("probe failed", logx.String("target", t.Name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)

		if a.store != nil {
			if err := a.store.Append(ctx, res); err != nil {
				a.log.Warn("history append failed", logx.Err(err))
			}
		}
		if err := a.notifier.Push(res); err != nil {
			a.log.Warn("notify push failed", logx.Err(err))
		}
	}

	if len(results) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (a *App) exportResults(outPath string, results []*probe.Result) (string, error) {
	path := outPath
	if st, err := os.Stat(outPath); err == nil && st.IsDir() {
		name := fmt.Sprintf("%s-%s.json",
			urlnorm.FileNameFromURL(results[0].URL),
			results[0].Timestamp.Format("20060102-150405"))
		path = filepath.Join(outPath, name)
	}

	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}

// Start brings the daemon up: notifier worker, config watcher (logging
// changes apply live) and the probe schedule.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	if !cfg.Schedule.Enabled {
		return fmt.Errorf("schedule.enabled must be set for daemon mode (or run with -once)")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	if a.notifier != nil {
		a.notifier.Start(runCtx)
	}

	// Config watch: re-apply logging on change. Probe settings are read
	// per round; schedule spec changes need a restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	sub := a.cfgMgr.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
				})
				a.log.Info("config reloaded")
			}
		}
	}()

	runner, err := sched.NewRunner(cfg.Schedule.Timezone, a.log.With(logx.String("svc", "sched")))
	if err != nil {
		cancel()
		return err
	}
	job := func(jctx context.Context) {
		targets, err := a.targets(jctx)
		if err != nil {
			a.log.Error("probe round skipped", logx.Err(err))
			return
		}
		if _, err := a.probeRound(jctx, targets); err != nil {
			a.log.Error("probe round failed", logx.Err(err))
		}
	}
	if err := runner.Start(runCtx, cfg.Schedule.Spec, job); err != nil {
		cancel()
		return err
	}
	a.sched = runner

	// First round right away; the schedule covers steady state.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		job(runCtx)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("daemon started", logx.String("schedule", cfg.Schedule.Spec))
	return nil
}

// Stop shuts everything down, draining the notifier until ctx expires.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.sched != nil {
		a.sched.Stop(ctx)
		a.sched = nil
	}
	if a.runCancel != nil {
		a.runCancel()
		a.runCancel = nil
	}
	if a.notifier != nil {
		a.notifier.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("daemon stopped")
	return a.logSvc.Close()
}

// Close releases resources for one-shot runs that never called Start.
func (a *App) Close() error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return a.logSvc.Close()
}
