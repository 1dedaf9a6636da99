// Package retention periodically removes delivered and failed messages once
// they are older than the configured retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/metrics"
)

type Purger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

type Janitor struct {
	store Purger
	keep  time.Duration
	spec  string
	now   func() time.Time
	log   zerolog.Logger

	mu sync.Mutex
	c  *cron.Cron
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec (five-field cron or a descriptor such as @daily).
func New(store Purger, keep time.Duration, spec string, log zerolog.Logger) (*Janitor, error) {
	if keep <= 0 {
		return nil, errors.New("retention window must be > 0")
	}
	if _, err := specParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return &Janitor{
		store: store,
		keep:  keep,
		spec:  spec,
		now:   time.Now,
		log:   log.With().Str("component", "retention").Logger(),
	}, nil
}

func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(specParser))
	if _, err := c.AddFunc(j.spec, j.run); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	c.Start()
	j.c = c
	j.log.Info().Str("schedule", j.spec).Str("keep", j.keep.String()).Msg("retention janitor started")
	return nil
}

// Stop waits for a running purge to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c == nil {
		return
	}
	<-j.c.Stop().Done()
	j.c = nil
	j.log.Info().Msg("retention janitor stopped")
}

func (j *Janitor) run() {
	if _, err := j.RunOnce(context.Background()); err != nil {
		j.log.Error().Err(err).Msg("retention purge failed")
	}
}

// RunOnce deletes terminal messages due before now minus the window.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.keep)
	n, err := j.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.Purged.Add(float64(n))
	if n > 0 {
		j.log.Info().Int64("purged", n).Time("before", cutoff).Msg("retention purge")
	}
	return n, nil
}
