// Package app assembles the scheduler's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/api"
	"github.com/LeventeLantos/scheduled-messaging/internal/cache"
	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/config"
	"github.com/LeventeLantos/scheduled-messaging/internal/llm"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
	"github.com/LeventeLantos/scheduled-messaging/internal/retention"
	"github.com/LeventeLantos/scheduled-messaging/internal/scheduler"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

type App struct {
	Store      repo.Store
	Dispatcher *service.Dispatcher
	Service    *service.SchedulingService
	Scheduler  *scheduler.Scheduler

	cfg      *config.Config
	receipts *cache.RedisCache
	janitor  *retention.Janitor
	closers  []func() error
	log      zerolog.Logger
}

type Option func(*options)

type options struct {
	sender client.SendClient
	qrOut  io.Writer
}

// WithSender replaces the configured delivery channels.
func WithSender(s client.SendClient) Option {
	return func(o *options) { o.sender = s }
}

// WithQROut sets where the WhatsApp pairing code is printed.
func WithQROut(w io.Writer) Option {
	return func(o *options) { o.qrOut = w }
}

// New opens the store and delivery channels described by cfg. Resources
// opened before a failure are released.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := options{qrOut: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: log}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg, log := a.cfg, a.log

	var err error
	a.Store, err = repo.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)
	log.Info().Str("driver", cfg.Database.Driver).Msg("store opened")

	sender := o.sender
	if sender == nil {
		sender, err = a.openChannels(ctx, o.qrOut)
		if err != nil {
			return err
		}
	}

	dopts := []service.DispatcherOption{
		service.WithThrottle(client.NewThrottle(cfg.Delivery.MinInterval)),
		service.WithContentMax(cfg.Scheduler.ContentMax),
		service.WithDeliveryTimeout(cfg.Delivery.Timeout),
	}
	if cfg.Redis.Enabled {
		rc, err := a.openRedis(ctx)
		if err != nil {
			return err
		}
		a.receipts = rc
		dopts = append(dopts, service.WithSentCache(rc), service.WithTickLock(rc))
	}
	a.Dispatcher = service.NewDispatcher(a.Store, sender, log, dopts...)

	sopts := []service.SchedulingOption{service.WithBodyLimit(cfg.Scheduler.ContentMax)}
	if cfg.LLM.Enabled {
		sopts = append(sopts, service.WithExtractor(llm.New(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})))
		log.Info().Str("model", cfg.LLM.Model).Msg("llm fallback parser enabled")
	}
	a.Service = service.NewSchedulingService(a.Store, a.Store, a.Dispatcher, log, sopts...)

	a.Scheduler, err = scheduler.New(cfg.Scheduler.Interval, a.Dispatcher.Run, log)
	if err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		a.janitor, err = retention.New(a.Store, cfg.Retention.Keep, cfg.Retention.Schedule, log)
		if err != nil {
			return err
		}
	}
	return nil
}

// openChannels builds the delivery chain: WhatsApp first when enabled, then
// the webhook.
func (a *App) openChannels(ctx context.Context, qrOut io.Writer) (client.SendClient, error) {
	d := a.cfg.Delivery
	var channels []client.SendClient

	if d.WhatsAppEnabled {
		wa, err := client.OpenWhatsApp(ctx, client.WhatsAppConfig{
			StorePath:   d.WhatsAppStorePath,
			CountryCode: d.CountryCode,
			QROut:       qrOut,
		}, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, wa.Close)
		channels = append(channels, wa)
		a.log.Info().Str("store", d.WhatsAppStorePath).Msg("whatsapp channel enabled")
	}
	if d.WebhookURL != "" {
		channels = append(channels, client.NewWebhookClient(d.WebhookURL,
			client.WithWebhookTimeout(d.Timeout),
			client.WithWebhookCountryCode(d.CountryCode),
		))
		a.log.Info().Msg("webhook channel enabled")
	}
	return client.NewChain(channels...), nil
}

func (a *App) openRedis(ctx context.Context) (*cache.RedisCache, error) {
	rcfg := a.cfg.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rcfg.Address,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.log.Info().Str("addr", rcfg.Address).Msg("redis connected")

	// The dispatcher refreshes the lock before each delivery, so it only has
	// to outlive one throttle wait plus one slow delivery.
	lockTTL := a.cfg.Scheduler.Interval + a.cfg.Delivery.MinInterval + a.cfg.Delivery.Timeout
	return cache.NewRedisCache(rdb, rcfg.TTL, lockTTL), nil
}

// Handler builds the operator API. ctx bounds a scheduler started over HTTP.
func (a *App) Handler(ctx context.Context) http.Handler {
	h := api.NewHandler(ctx, a.Scheduler, a.Service, a.Dispatcher, a.log)
	if a.receipts != nil {
		h.WithReceipts(a.receipts)
	}
	return api.Router(h)
}

// Start launches the retention janitor and, when configured, the scheduler.
func (a *App) Start(ctx context.Context) error {
	if a.janitor != nil {
		if err := a.janitor.Start(); err != nil {
			return err
		}
	}
	if a.cfg.Scheduler.AutoStart {
		a.Scheduler.Start(ctx)
	}
	return nil
}

// Close stops background work and releases resources in reverse order of
// acquisition.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.janitor != nil {
		a.janitor.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
