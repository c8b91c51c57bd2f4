package scheduler

import (
	"context"
	"time"
)

const DefaultInterval = 60 * time.Second

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Ticker abstracts time.Ticker so tests can drive the loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Scheduler runs a job immediately and then once per interval.
type Scheduler struct {
	job       Job
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	fatal     func(error) bool
	onError   func(error)
	onCycle   func(time.Time, error)
	now       func() time.Time
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// WithFatal classifies job errors that stop the loop.
func WithFatal(fn func(error) bool) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.fatal = fn
		}
	}
}

// WithErrorHandler receives non-fatal job errors.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onError = fn
		}
	}
}

// WithCycleObserver is called after every run with its outcome.
func WithCycleObserver(fn func(time.Time, error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onCycle = fn
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		job:      job,
		interval: DefaultInterval,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
		fatal:   func(error) bool { return false },
		onError: func(error) {},
		onCycle: func(time.Time, error) {},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run blocks until ctx is done or the job returns a fatal error.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.runOnce(ctx); err != nil {
		return err
	}

	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := s.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.job(ctx)
	s.onCycle(s.now(), err)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.fatal(err) {
		return err
	}
	s.onError(err)
	return nil
}
