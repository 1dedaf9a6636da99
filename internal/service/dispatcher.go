package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/cache"
	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/metrics"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

// Dispatcher delivers due messages and records the outcome. Each message
// gets exactly one delivery attempt; a failed delivery is terminal.
type Dispatcher struct {
	store      repo.MessageRepository
	client     client.SendClient
	cache      cache.MessageCache
	lock       cache.TickLock
	throttle   *client.Throttle
	contentMax int
	timeout    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithSentCache records a receipt for every successful delivery.
func WithSentCache(c cache.MessageCache) DispatcherOption {
	return func(d *Dispatcher) { d.cache = c }
}

// WithTickLock makes Tick skip when another instance holds the lock.
func WithTickLock(l cache.TickLock) DispatcherOption {
	return func(d *Dispatcher) { d.lock = l }
}

// WithThrottle spaces sends out. The wait happens before the delivery
// timeout starts.
func WithThrottle(t *client.Throttle) DispatcherOption {
	return func(d *Dispatcher) { d.throttle = t }
}

func WithContentMax(n int) DispatcherOption {
	return func(d *Dispatcher) { d.contentMax = n }
}

func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store repo.MessageRepository, sender client.SendClient, log zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		client: sender,
		now:    time.Now,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TickResult summarizes one dispatch pass. Errored counts messages that were
// not attempted or whose outcome could not be stored; they stay pending for
// the next tick.
type TickResult struct {
	Due     int  `json:"due"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Errored int  `json:"errored"`
	Skipped bool `json:"skipped,omitempty"`
}

// Tick processes every message due at the current time, in due order.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	if d.lock != nil {
		ok, err := d.lock.AcquireTickLock(ctx)
		if err != nil {
			metrics.Ticks.WithLabelValues(metrics.TickFailed).Inc()
			return res, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			metrics.Ticks.WithLabelValues(metrics.TickSkipped).Inc()
			d.log.Debug().Msg("tick skipped, lock held elsewhere")
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := d.lock.ReleaseTickLock(ctx); err != nil {
				d.log.Warn().Err(err).Msg("release tick lock")
			}
		}()
	}

	due, err := d.store.FindDue(ctx, d.now())
	if err != nil {
		metrics.Ticks.WithLabelValues(metrics.TickFailed).Inc()
		return res, fmt.Errorf("find due messages: %w", err)
	}
	res.Due = len(due)

	for i, m := range due {
		if d.lock != nil && i > 0 {
			held, err := d.lock.RefreshTickLock(ctx)
			if err != nil || !held {
				d.log.Warn().Err(err).Int("remaining", len(due)-i).Msg("tick lock lost, leaving rest pending")
				break
			}
		}
		status, err := d.Deliver(ctx, m)
		switch {
		case err != nil:
			res.Errored++
			d.log.Error().Err(err).Int64("id", m.ID).Msg("could not record delivery outcome")
		case status == model.Sent:
			res.Sent++
		default:
			res.Failed++
		}
	}

	metrics.Ticks.WithLabelValues(metrics.TickCompleted).Inc()
	if res.Due > 0 {
		d.log.Info().
			Int("due", res.Due).
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Int("errored", res.Errored).
			Msg("dispatch tick")
	}
	return res, nil
}

// Run is Tick shaped for the scheduler loop.
func (d *Dispatcher) Run(ctx context.Context) {
	if _, err := d.Tick(ctx); err != nil {
		d.log.Error().Err(err).Msg("dispatch tick failed")
	}
}

// Deliver makes one delivery attempt for m and stores the outcome. The
// returned error is set only when the attempt never started or its outcome
// could not be stored, in which case m is still pending.
func (d *Dispatcher) Deliver(ctx context.Context, m model.ScheduledMessage) (model.Status, error) {
	var (
		remoteID string
		err      error
	)
	if d.contentMax > 0 && utf8.RuneCountInString(m.Body) > d.contentMax {
		err = fmt.Errorf("content exceeds %d chars", d.contentMax)
	} else {
		if werr := d.throttle.Wait(ctx); werr != nil {
			metrics.Deliveries.WithLabelValues(metrics.OutcomeErrored).Inc()
			return model.Pending, fmt.Errorf("message %d not attempted: %w", m.ID, werr)
		}
		remoteID, err = d.send(ctx, m.Address, m.Body)
	}

	if err != nil {
		if serr := d.store.MarkFailed(ctx, m.ID, err.Error()); serr != nil {
			metrics.Deliveries.WithLabelValues(metrics.OutcomeErrored).Inc()
			return model.Pending, fmt.Errorf("mark message %d failed: %w", m.ID, serr)
		}
		metrics.Deliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
		d.log.Warn().Err(err).Int64("id", m.ID).Str("recipient", m.RecipientName).Msg("delivery failed")
		return model.Failed, nil
	}

	sentAt := d.now().UTC()
	if serr := d.store.MarkSent(ctx, m.ID, sentAt); serr != nil {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeErrored).Inc()
		return model.Pending, fmt.Errorf("mark message %d sent: %w", m.ID, serr)
	}
	metrics.Deliveries.WithLabelValues(metrics.OutcomeSent).Inc()
	d.log.Info().Int64("id", m.ID).Str("recipient", m.RecipientName).Str("remote_id", remoteID).Msg("message sent")

	if d.cache != nil {
		if err := d.cache.StoreSent(ctx, m.ID, remoteID, sentAt); err != nil {
			d.log.Warn().Err(err).Int64("id", m.ID).Msg("cache sent receipt")
		}
	}
	return model.Sent, nil
}

// SendDirect delivers body without touching the store.
func (d *Dispatcher) SendDirect(ctx context.Context, address, body string) (string, error) {
	if err := d.throttle.Wait(ctx); err != nil {
		return "", err
	}
	return d.send(ctx, address, body)
}

func (d *Dispatcher) send(ctx context.Context, address, body string) (remoteID string, err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return d.client.Send(ctx, address, body)
}
