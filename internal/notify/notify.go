// Package notify pushes completed probe results to a Telegram chat.
//
// Sends are fire-and-forget from the probe's point of view: a bounded
// queue and a single worker decouple measurement from Telegram latency,
// and a token bucket keeps us under the bot API rate limits.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	ThreadID   int
	RatePerSec int
	QueueSize  int
}

// Service owns the Telegram bot client and the send worker.
type Service struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan *probe.Result
	accepting bool
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// New builds the notifier. It returns (nil, nil) when disabled, so
// callers can treat a nil *Service as "no notifications".
func New(cfg Config, log logx.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:     cfg,
		log:     log,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan *probe.Result, s.cfg.QueueSize)
	s.accepting = true
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	q := s.queue
	s.mu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.workerLoop(runCtx, q)
	}()
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}
}

// Push enqueues a result for delivery. It never blocks; a full queue
// drops the newest item with ErrQueueFull.
func (s *Service) Push(r *probe.Result) error {
	if s == nil || r == nil {
		return nil
	}
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()

	if !accepting || q == nil {
		return ErrStopped
	}
	select {
	case q <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan *probe.Result) {
	for r := range q {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.send(r)
	}
}

func (s *Service) send(r *probe.Result) {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if s.cfg.ThreadID != 0 {
		opts.ThreadID = s.cfg.ThreadID
	}
	start := time.Now()
	_, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), FormatResult(r), opts)
	if err != nil {
		s.log.Warn("notification send failed",
			logx.Err(err),
			logx.Int64("chat_id", s.cfg.ChatID),
			logx.Duration("took", time.Since(start)),
		)
		return
	}
	s.log.Debug("notification sent",
		logx.Int64("chat_id", s.cfg.ChatID),
		logx.String("target", r.Target),
	)
}
