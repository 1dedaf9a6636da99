package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs tickFn on a fixed interval in one background goroutine,
// with an immediate tick on start.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)
	log      zerolog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context), log zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		log:      log.With().Str("component", "scheduler").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop under parent; cancelling parent ends the loop the
// same way Stop does. It returns false if the loop is already running.
func (s *Scheduler) Start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)

	go s.loop(ctx, done)

	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.running.Store(false)
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Str("interval", s.interval.String()).Msg("scheduler started")

	// A tick in progress always runs to completion; only the wait between
	// ticks observes cancellation.
	tickCtx := context.WithoutCancel(ctx)

	s.safeTick(tickCtx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.safeTick(tickCtx)
		}
	}
}

// Stop ends the loop and waits for an in-flight tick to finish. It returns
// false if the loop was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done

	s.log.Info().Msg("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduler tick panic recovered")
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	s.log.Debug().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("scheduler tick completed")
}
