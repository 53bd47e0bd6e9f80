// Package recovery periodically replays unmaterialized log entries into the
// payload store.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// retryDelay is how long the scheduler waits after a cron evaluation error.
const retryDelay = 30 * time.Second

// Recoverer is implemented by *engine.Engine.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Scheduler runs Recover at startup and on every tick of a cron expression.
type Scheduler struct {
	target  Recoverer
	cron    string
	onStart bool
	logger  *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler. An empty cron expression disables periodic runs;
// onStart controls the initial run.
func New(target Recoverer, cron string, onStart bool, opts ...Option) (*Scheduler, error) {
	if cron != "" && !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid recovery cron expression: %s", cron)
	}

	s := &Scheduler{
		target:  target,
		cron:    cron,
		onStart: onStart,
		logger:  slog.Default(),
		now:     time.Now,
		after:   time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.onStart {
		s.runOnce(ctx, "startup")
	}

	if s.cron == "" {
		s.logger.Info("recovery scheduler disabled")
		<-ctx.Done()
		return
	}

	s.logger.Info("recovery scheduler started", "cron", s.cron)
	for {
		now := s.now().UTC()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		var wait time.Duration
		if err != nil {
			s.logger.Error("recovery next tick failed", "cron", s.cron, "error", err)
			wait = retryDelay
		} else {
			wait = next.Sub(now)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("recovery scheduler stopping")
			return
		case <-s.after(wait):
		}

		if err == nil {
			s.runOnce(ctx, "cron")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	n, err := s.target.Recover(ctx)
	if err != nil {
		s.logger.Error("recovery run failed", "trigger", trigger, "replayed", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("recovery run finished", "trigger", trigger, "replayed", n)
		return
	}
	s.logger.Debug("recovery run found nothing to replay", "trigger", trigger)
}
