package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sendCall struct {
	Address string
	Body    string
}

// fakeSender fails or panics on configured bodies and succeeds otherwise.
type fakeSender struct {
	mu      sync.Mutex
	calls   []sendCall
	failOn  map[string]error
	panicOn string
}

func (f *fakeSender) Send(ctx context.Context, address, body string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{Address: address, Body: body})
	n := len(f.calls)
	f.mu.Unlock()

	if body == f.panicOn && body != "" {
		panic("channel exploded")
	}
	if err, ok := f.failOn[body]; ok {
		return "", err
	}
	return "remote-" + string(rune('a'+n-1)), nil
}

func (f *fakeSender) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type harness struct {
	store      repo.Store
	sender     *fakeSender
	clock      *fakeClock
	dispatcher *service.Dispatcher
	svc        *service.SchedulingService
}

func newStore(t *testing.T) repo.Store {
	t.Helper()
	s, err := repo.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "scheduler.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newHarness(t *testing.T, dopts []service.DispatcherOption, sopts ...service.SchedulingOption) *harness {
	t.Helper()

	h := &harness{
		store:  newStore(t),
		sender: &fakeSender{failOn: map[string]error{}},
		clock:  &fakeClock{t: base},
	}
	return h.build(t, h.store, dopts, sopts...)
}

func (h *harness) build(t *testing.T, messages repo.MessageRepository, dopts []service.DispatcherOption, sopts ...service.SchedulingOption) *harness {
	t.Helper()

	dopts = append([]service.DispatcherOption{service.WithDispatchClock(h.clock.Now)}, dopts...)
	h.dispatcher = service.NewDispatcher(messages, h.sender, zerolog.Nop(), dopts...)

	sopts = append([]service.SchedulingOption{service.WithSchedulingClock(h.clock.Now)}, sopts...)
	h.svc = service.NewSchedulingService(h.store, h.store, h.dispatcher, zerolog.Nop(), sopts...)
	return h
}

func (h *harness) addContact(t *testing.T, name, address string) {
	t.Helper()
	if err := h.store.UpsertContact(context.Background(), name, address); err != nil {
		t.Fatalf("add contact %s: %v", name, err)
	}
}

func (h *harness) messages(t *testing.T) []messageView {
	t.Helper()
	list, err := h.store.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	out := make([]messageView, 0, len(list))
	for _, m := range list {
		out = append(out, messageView{ID: m.ID, Body: m.Body, Status: string(m.Status)})
	}
	return out
}

type messageView struct {
	ID     int64
	Body   string
	Status string
}

var errChannel = errors.New("recipient rejected")
