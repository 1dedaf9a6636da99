package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/parser"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

func TestSchedule_StoresPendingMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "John", "+15550001")
	ctx := context.Background()

	m, err := h.svc.Schedule(ctx, `Send john "test message" in 2 minutes`, service.NoPrompt{})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if m.ID == 0 || m.Status != model.Pending {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.RecipientName != "john" || m.Address != "+15550001" || m.Body != "test message" {
		t.Fatalf("unexpected message fields: %+v", m)
	}
	if want := base.Add(2 * time.Minute); !m.DueAt.Equal(want) {
		t.Fatalf("expected dueAt %v, got %v", want, m.DueAt)
	}

	list, err := h.svc.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if len(list) != 1 || list[0].ID != m.ID || list[0].Body != m.Body || !list[0].DueAt.Equal(m.DueAt) {
		t.Fatalf("expected the scheduled message back from the store, got %+v", list)
	}
}

func TestSchedule_AddressIsFrozen(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")
	ctx := context.Background()

	m, err := h.svc.Schedule(ctx, `Send john "hi" in 0 minutes`, service.NoPrompt{})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if err := h.svc.AddContact(ctx, "john", "+15559999"); err != nil {
		t.Fatalf("AddContact() error: %v", err)
	}

	if _, err := h.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	calls := h.sender.Calls()
	if len(calls) != 1 || calls[0].Address != "+15550001" {
		t.Fatalf("expected delivery to the address captured at scheduling, got %+v", calls)
	}
	got, _ := h.svc.Message(ctx, m.ID)
	if got.Address != "+15550001" {
		t.Fatalf("stored address changed: %q", got.Address)
	}
}

func TestSchedule_Incomplete(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")

	_, err := h.svc.Schedule(context.Background(), `Send john "no timing"`, service.NoPrompt{})
	if !errors.Is(err, service.ErrParseIncomplete) {
		t.Fatalf("expected ErrParseIncomplete, got %v", err)
	}
	if !strings.Contains(err.Error(), "delay") {
		t.Fatalf("expected error to name the missing delay, got %v", err)
	}
	if got := h.messages(t); len(got) != 0 {
		t.Fatalf("expected no stored messages, got %+v", got)
	}
}

func TestSchedule_UnknownRecipient(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, `Send zoe "hi" in 5 minutes`, service.NoPrompt{})
	if !errors.Is(err, service.ErrUnknownRecipient) {
		t.Fatalf("expected ErrUnknownRecipient, got %v", err)
	}
	if got := h.messages(t); len(got) != 0 {
		t.Fatalf("expected no stored messages, got %+v", got)
	}
	if contacts, _ := h.svc.Contacts(ctx); len(contacts) != 0 {
		t.Fatalf("expected no contacts, got %+v", contacts)
	}
}

func TestSchedule_PromptsForNewContact(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	m, err := h.svc.Schedule(ctx, `Send zoe "hi" in 5 minutes`, service.StaticPrompter{NewContact: " +15550042 "})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if m.RecipientName != "zoe" || m.Address != "+15550042" {
		t.Fatalf("unexpected message: %+v", m)
	}

	contacts, err := h.svc.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Name != "zoe" || contacts[0].Address != "+15550042" {
		t.Fatalf("expected zoe to be stored, got %+v", contacts)
	}
}

// slowPrompter answers after the operator has taken wait to reply.
type slowPrompter struct {
	clock   *fakeClock
	wait    time.Duration
	address string
}

func (p slowPrompter) SelfAddress(context.Context) (string, error) {
	p.clock.Advance(p.wait)
	return p.address, nil
}

func (p slowPrompter) NewContactAddress(context.Context, string) (string, error) {
	p.clock.Advance(p.wait)
	return p.address, nil
}

func TestSchedule_DelayCountsFromAfterPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	prompter := slowPrompter{clock: h.clock, wait: 10 * time.Minute, address: "+15550001"}

	m, err := h.svc.Schedule(ctx, `Send john "hi" in 2 minutes`, prompter)
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if want := base.Add(12 * time.Minute); !m.DueAt.Equal(want) {
		t.Fatalf("expected dueAt %v, got %v", want, m.DueAt)
	}

	self, err := h.svc.Schedule(ctx, `Remind you "stretch" in 1 minute`, prompter)
	if err != nil {
		t.Fatalf("Schedule(self) error: %v", err)
	}
	if want := base.Add(21 * time.Minute); !self.DueAt.Equal(want) {
		t.Fatalf("expected self dueAt %v, got %v", want, self.DueAt)
	}

	// An absolute due time is not moved by the prompt.
	at := base.Add(time.Hour)
	abs, err := h.svc.ScheduleAt(ctx, "zoe", "later", at, prompter)
	if err != nil {
		t.Fatalf("ScheduleAt() error: %v", err)
	}
	if !abs.DueAt.Equal(at) {
		t.Fatalf("expected dueAt %v, got %v", at, abs.DueAt)
	}
}

func TestScheduleAt_KeepsSuppliedRecipientName(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")
	ctx := context.Background()

	m, err := h.svc.ScheduleAt(ctx, " John ", "hello", base.Add(time.Minute), service.NoPrompt{})
	if err != nil {
		t.Fatalf("ScheduleAt() error: %v", err)
	}
	if m.RecipientName != "John" || m.Address != "+15550001" {
		t.Fatalf("unexpected message: %+v", m)
	}
	got, err := h.svc.Message(ctx, m.ID)
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if got.RecipientName != "John" {
		t.Fatalf("expected stored name John, got %q", got.RecipientName)
	}

	// New contacts are keyed by the normalized name.
	if _, err := h.svc.ScheduleAt(ctx, "Zoe", "hi", base, service.StaticPrompter{NewContact: "+15550042"}); err != nil {
		t.Fatalf("ScheduleAt(new contact) error: %v", err)
	}
	if _, found, _ := h.store.LookupContact(ctx, "zoe"); !found {
		t.Fatalf("expected contact zoe to be stored")
	}
}

func TestSchedule_SelfRecipient(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, `Remind you 'call back' in 1 hour`, service.NoPrompt{})
	if !errors.Is(err, service.ErrSelfAddressRequired) {
		t.Fatalf("expected ErrSelfAddressRequired, got %v", err)
	}
	if !errors.Is(err, service.ErrUnknownRecipient) {
		t.Fatalf("expected ErrSelfAddressRequired to match ErrUnknownRecipient")
	}

	m, err := h.svc.Schedule(ctx, `Remind you 'call back' in 1 hour`, service.StaticPrompter{Self: "+19876543210"})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if m.RecipientName != model.SelfAlias || m.Address != "+19876543210" || m.Body != "call back" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if want := base.Add(time.Hour); !m.DueAt.Equal(want) {
		t.Fatalf("expected dueAt %v, got %v", want, m.DueAt)
	}

	addr, found, err := h.store.LookupContact(ctx, model.SelfAlias)
	if err != nil || !found || addr != "+19876543210" {
		t.Fatalf("expected own address under alias, got addr=%q found=%v err=%v", addr, found, err)
	}
}

func TestSchedule_BodyLimits(t *testing.T) {
	h := newHarness(t, nil, service.WithBodyLimit(5))
	h.addContact(t, "john", "+15550001")
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, `Send john "too long body" in 1 minute`, service.NoPrompt{})
	if !errors.Is(err, service.ErrBodyTooLong) {
		t.Fatalf("expected ErrBodyTooLong, got %v", err)
	}

	_, err = h.svc.ScheduleAt(ctx, "john", "   ", base, service.NoPrompt{})
	if !errors.Is(err, service.ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}

	// Five runes, not five bytes.
	if _, err := h.svc.ScheduleAt(ctx, "john", "héllo", base, service.NoPrompt{}); err != nil {
		t.Fatalf("expected 5-rune body to fit, got %v", err)
	}
}

type fakeExtractor struct {
	req   parser.Request
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, input string) (parser.Request, error) {
	f.calls++
	return f.req, f.err
}

func TestSchedule_FallbackFillsOnlyMissingFields(t *testing.T) {
	ex := &fakeExtractor{req: parser.Request{Recipient: "bob", Body: "other", DelayMinutes: 5, HasDelay: true}}
	h := newHarness(t, nil, service.WithExtractor(ex))
	h.addContact(t, "john", "+15550001")

	m, err := h.svc.Schedule(context.Background(), `Send john "hi"`, service.NoPrompt{})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if m.RecipientName != "john" || m.Body != "hi" {
		t.Fatalf("expected parsed fields to be kept, got %+v", m)
	}
	if want := base.Add(5 * time.Minute); !m.DueAt.Equal(want) {
		t.Fatalf("expected dueAt from fallback %v, got %v", want, m.DueAt)
	}

	// Complete parses never reach the fallback.
	if _, err := h.svc.Schedule(context.Background(), `Send john "x" in 1 minute`, service.NoPrompt{}); err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if ex.calls != 1 {
		t.Fatalf("expected one fallback call, got %d", ex.calls)
	}
}

func TestSchedule_FallbackErrorStillReportsIncomplete(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("model offline")}
	h := newHarness(t, nil, service.WithExtractor(ex))

	_, err := h.svc.Schedule(context.Background(), "hello there", service.NoPrompt{})
	if !errors.Is(err, service.ErrParseIncomplete) {
		t.Fatalf("expected ErrParseIncomplete, got %v", err)
	}
}

func TestSendImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")
	ctx := context.Background()

	if err := h.svc.SendImmediately(ctx, "John", "now please"); err != nil {
		t.Fatalf("SendImmediately(name) error: %v", err)
	}
	if err := h.svc.SendImmediately(ctx, "+15557777", "direct"); err != nil {
		t.Fatalf("SendImmediately(address) error: %v", err)
	}

	calls := h.sender.Calls()
	if len(calls) != 2 || calls[0].Address != "+15550001" || calls[1].Address != "+15557777" {
		t.Fatalf("unexpected deliveries: %+v", calls)
	}
	if got := h.messages(t); len(got) != 0 {
		t.Fatalf("expected no stored messages, got %+v", got)
	}

	if err := h.svc.SendImmediately(ctx, "nobody", "x"); !errors.Is(err, service.ErrUnknownRecipient) {
		t.Fatalf("expected ErrUnknownRecipient, got %v", err)
	}

	h.sender.failOn["boom"] = fmt.Errorf("%w: offline", client.ErrUnavailable)
	err := h.svc.SendImmediately(ctx, "john", "boom")
	if !errors.Is(err, client.ErrUnavailable) || !errors.Is(err, service.ErrDeliveryFailed) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestSendNow(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")
	ctx := context.Background()

	m, err := h.svc.Schedule(ctx, `Send john "early bird" in 2 days`, service.NoPrompt{})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}

	got, err := h.svc.SendNow(ctx, m.ID)
	if err != nil {
		t.Fatalf("SendNow() error: %v", err)
	}
	if got.Status != model.Sent || got.SentAt == nil {
		t.Fatalf("expected sent message, got %+v", got)
	}

	if _, err := h.svc.SendNow(ctx, m.ID); !errors.Is(err, service.ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second SendNow, got %v", err)
	}
	if _, err := h.svc.SendNow(ctx, 9999); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(h.sender.Calls()); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
}

func TestReschedule_CreatesPendingCopy(t *testing.T) {
	h := newHarness(t, nil)
	h.addContact(t, "john", "+15550001")
	h.sender.failOn["flaky"] = errChannel
	ctx := context.Background()

	m, err := h.svc.Schedule(ctx, `Send john "flaky" in 0 minutes`, service.NoPrompt{})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if _, err := h.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	due := base.Add(10 * time.Minute)
	copyMsg, err := h.svc.Reschedule(ctx, m.ID, due)
	if err != nil {
		t.Fatalf("Reschedule() error: %v", err)
	}
	if copyMsg.ID == m.ID || copyMsg.Status != model.Pending || !copyMsg.DueAt.Equal(due) {
		t.Fatalf("unexpected copy: %+v", copyMsg)
	}
	if copyMsg.Address != m.Address || copyMsg.Body != m.Body || copyMsg.RecipientName != m.RecipientName {
		t.Fatalf("copy must keep recipient, address and body: %+v", copyMsg)
	}

	orig, err := h.svc.Message(ctx, m.ID)
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if orig.Status != model.Failed {
		t.Fatalf("expected original to stay failed, got %s", orig.Status)
	}

	if _, err := h.svc.Reschedule(ctx, 9999, due); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContactAndMessagePassThrough(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.svc.AddContact(ctx, "", "+1"); err == nil {
		t.Fatalf("expected invalid contact error")
	}
	if err := h.svc.AddContact(ctx, "Mia", "+15550003"); err != nil {
		t.Fatalf("AddContact() error: %v", err)
	}
	m, err := h.svc.ScheduleAt(ctx, "mia", "hello", base.Add(time.Hour), service.NoPrompt{})
	if err != nil {
		t.Fatalf("ScheduleAt() error: %v", err)
	}
	if err := h.svc.RemoveContact(ctx, "MIA"); err != nil {
		t.Fatalf("RemoveContact() error: %v", err)
	}
	if err := h.svc.DeleteMessage(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMessage() error: %v", err)
	}
	if err := h.svc.DeleteMessage(ctx, m.ID); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if contacts, _ := h.svc.Contacts(ctx); len(contacts) != 0 {
		t.Fatalf("expected no contacts, got %+v", contacts)
	}
}
