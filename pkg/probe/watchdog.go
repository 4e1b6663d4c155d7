package probe

import (
	"context"
	"os"
	"time"
)

// watchdog cancels a request context when the stream goes quiet.
//
// A connection that stops delivering bytes without closing leaves Read
// blocked forever; the cooperative elapsed check between reads never gets
// a chance to run. The watchdog arms a timer that is re-armed on every
// chunk and cancels the request with os.ErrDeadlineExceeded when it fires.
type watchdog struct {
	cancel   context.CancelCauseFunc
	timer    *time.Timer
	deadline *time.Timer
	timeout  time.Duration
}

func newWatchdog(parent context.Context, stall, deadline time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	wd := &watchdog{cancel: cancel, timeout: stall}
	if stall > 0 {
		wd.timer = time.AfterFunc(stall, func() {
			cancel(os.ErrDeadlineExceeded)
		})
	}
	if deadline > 0 {
		// Absolute backstop: even a trickling stream cannot hold the
		// request open past cap + grace.
		wd.deadline = time.AfterFunc(deadline, func() {
			cancel(os.ErrDeadlineExceeded)
		})
	}
	return ctx, wd
}

// kick re-arms the stall timer; call once per received chunk.
func (wd *watchdog) kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

// stop disarms the watchdog and releases the derived context.
func (wd *watchdog) stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	if wd.deadline != nil {
		wd.deadline.Stop()
	}
	wd.cancel(nil)
}
