package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "pewprobe/pkg/logx"
)

// Runner fires a single job on a schedule.
//
// Runs never overlap: if the previous probe round is still in flight
// when the timer fires again, the new tick is skipped (a probe round can
// legitimately take tens of seconds per target).
type Runner struct {
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	running bool
}

func NewRunner(timezone string, log logx.Logger) (*Runner, error) {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		log:    log,
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Start parses spec and begins firing job. The job receives ctx; it is
// expected to return promptly once ctx is done.
func (r *Runner) Start(ctx context.Context, spec string, job func(ctx context.Context)) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	id, err := c.AddFunc(ps.CronSpec(), func() {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		if r.running {
			r.mu.Unlock()
			r.log.Warn("previous probe round still running; skipping tick")
			return
		}
		r.running = true
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("add schedule %q: %w", spec, err)
	}
	r.c = c
	r.entry = id
	c.Start()
	r.log.Info("schedule started",
		logx.String("spec", spec),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Next reports when the job fires next (zero if not started).
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

// Stop halts the timer and waits for an in-flight run until ctx expires.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
