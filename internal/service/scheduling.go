package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/metrics"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/parser"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

// Prompter supplies addresses the directory does not have yet. An empty
// answer declines.
type Prompter interface {
	SelfAddress(ctx context.Context) (string, error)
	NewContactAddress(ctx context.Context, name string) (string, error)
}

// NoPrompt declines every question.
type NoPrompt struct{}

func (NoPrompt) SelfAddress(context.Context) (string, error) { return "", nil }

func (NoPrompt) NewContactAddress(context.Context, string) (string, error) { return "", nil }

// StaticPrompter answers with fixed values, for callers that collect the
// addresses up front.
type StaticPrompter struct {
	Self       string
	NewContact string
}

func (p StaticPrompter) SelfAddress(context.Context) (string, error) { return p.Self, nil }

func (p StaticPrompter) NewContactAddress(context.Context, string) (string, error) {
	return p.NewContact, nil
}

// Extractor is a second-chance parser for instructions the rule-based parser
// could not fully read.
type Extractor interface {
	Extract(ctx context.Context, input string) (parser.Request, error)
}

type SchedulingService struct {
	contacts   repo.ContactRepository
	messages   repo.MessageRepository
	dispatcher *Dispatcher
	extractor  Extractor
	contentMax int
	now        func() time.Time
	log        zerolog.Logger
}

type SchedulingOption func(*SchedulingService)

func WithExtractor(e Extractor) SchedulingOption {
	return func(s *SchedulingService) { s.extractor = e }
}

// WithBodyLimit rejects bodies longer than n runes at scheduling time.
func WithBodyLimit(n int) SchedulingOption {
	return func(s *SchedulingService) { s.contentMax = n }
}

func WithSchedulingClock(now func() time.Time) SchedulingOption {
	return func(s *SchedulingService) { s.now = now }
}

func NewSchedulingService(contacts repo.ContactRepository, messages repo.MessageRepository, dispatcher *Dispatcher, log zerolog.Logger, opts ...SchedulingOption) *SchedulingService {
	s := &SchedulingService{
		contacts:   contacts,
		messages:   messages,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        log.With().Str("component", "scheduling").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule parses raw, resolves the recipient and stores a pending message
// due DelayMinutes from now.
func (s *SchedulingService) Schedule(ctx context.Context, raw string, prompter Prompter) (model.ScheduledMessage, error) {
	req := parser.Parse(raw)
	if !req.Complete() && s.extractor != nil {
		extra, err := s.extractor.Extract(ctx, raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("fallback extraction failed")
		} else {
			req = fillMissing(req, extra)
		}
	}
	if !req.Complete() {
		return model.ScheduledMessage{}, fmt.Errorf("%w: missing %s", ErrParseIncomplete, strings.Join(req.Missing(), ", "))
	}

	delay := time.Duration(req.DelayMinutes) * time.Minute
	return s.schedule(ctx, req.Recipient, req.Body, func() time.Time { return s.now().Add(delay) }, prompter)
}

// ScheduleAt stores a pending message for an already structured request.
func (s *SchedulingService) ScheduleAt(ctx context.Context, recipient, body string, dueAt time.Time, prompter Prompter) (model.ScheduledMessage, error) {
	return s.schedule(ctx, recipient, body, func() time.Time { return dueAt }, prompter)
}

// schedule resolves the recipient before asking due for the due time, so a
// relative delay counts from after any prompt has been answered.
func (s *SchedulingService) schedule(ctx context.Context, recipient, body string, due func() time.Time, prompter Prompter) (model.ScheduledMessage, error) {
	body = strings.TrimSpace(body)
	if err := s.checkBody(body); err != nil {
		return model.ScheduledMessage{}, err
	}

	name, address, err := s.resolve(ctx, recipient, prompter)
	if err != nil {
		return model.ScheduledMessage{}, err
	}

	m, err := s.messages.InsertMessage(ctx, model.ScheduledMessage{
		RecipientName: name,
		Address:       address,
		Body:          body,
		DueAt:         due(),
	})
	if err != nil {
		return model.ScheduledMessage{}, fmt.Errorf("store message: %w", err)
	}

	metrics.Scheduled.Inc()
	s.log.Info().
		Int64("id", m.ID).
		Str("recipient", m.RecipientName).
		Time("due_at", m.DueAt).
		Msg("message scheduled")
	return m, nil
}

func (s *SchedulingService) checkBody(body string) error {
	if body == "" {
		return ErrEmptyBody
	}
	if s.contentMax > 0 && utf8.RuneCountInString(body) > s.contentMax {
		return fmt.Errorf("%w: %d characters, limit %d", ErrBodyTooLong, utf8.RuneCountInString(body), s.contentMax)
	}
	return nil
}

// resolve returns the recipient name as supplied along with its address,
// asking prompter for anything the directory lacks. Lookups use the
// normalized name.
func (s *SchedulingService) resolve(ctx context.Context, recipient string, prompter Prompter) (string, string, error) {
	if prompter == nil {
		prompter = NoPrompt{}
	}
	supplied := strings.TrimSpace(recipient)
	name := model.NormalizeName(supplied)
	if name == "" {
		return "", "", ErrUnknownRecipient
	}

	if name == model.SelfRecipient {
		addr, err := prompter.SelfAddress(ctx)
		if err != nil {
			return "", "", fmt.Errorf("ask for own address: %w", err)
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return "", "", ErrSelfAddressRequired
		}
		if err := s.contacts.UpsertContact(ctx, model.SelfAlias, addr); err != nil {
			return "", "", fmt.Errorf("store own address: %w", err)
		}
		return model.SelfAlias, addr, nil
	}

	addr, found, err := s.contacts.LookupContact(ctx, name)
	if err != nil {
		return "", "", fmt.Errorf("lookup contact %q: %w", name, err)
	}
	if found {
		return supplied, addr, nil
	}

	addr, err = prompter.NewContactAddress(ctx, name)
	if err != nil {
		return "", "", fmt.Errorf("ask for address of %q: %w", name, err)
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRecipient, name)
	}
	if err := s.contacts.UpsertContact(ctx, name, addr); err != nil {
		return "", "", fmt.Errorf("store contact %q: %w", name, err)
	}
	s.log.Info().Str("contact", name).Msg("contact added")
	return supplied, addr, nil
}

// SendImmediately delivers body once without storing a message. to is a
// contact name, or an address when it starts with '+' or a digit.
func (s *SchedulingService) SendImmediately(ctx context.Context, to, body string) error {
	body = strings.TrimSpace(body)
	if err := s.checkBody(body); err != nil {
		return err
	}

	address := strings.TrimSpace(to)
	if !looksLikeAddress(address) {
		name := model.NormalizeName(address)
		if name == model.SelfRecipient {
			name = model.SelfAlias
		}
		addr, found, err := s.contacts.LookupContact(ctx, name)
		if err != nil {
			return fmt.Errorf("lookup contact %q: %w", name, err)
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrUnknownRecipient, name)
		}
		address = addr
	}

	remoteID, err := s.dispatcher.SendDirect(ctx, address, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	s.log.Info().Str("remote_id", remoteID).Msg("message sent immediately")
	return nil
}

func looksLikeAddress(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '+' || (c >= '0' && c <= '9')
}

// SendNow delivers a pending message ahead of its due time. A delivery
// failure is recorded on the message, not returned.
func (s *SchedulingService) SendNow(ctx context.Context, id int64) (model.ScheduledMessage, error) {
	m, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return model.ScheduledMessage{}, err
	}
	if m.Status != model.Pending {
		return m, fmt.Errorf("%w: message %d is %s", ErrNotPending, id, m.Status)
	}

	if _, err := s.dispatcher.Deliver(ctx, m); err != nil {
		return m, err
	}
	return s.messages.GetMessage(ctx, id)
}

// Reschedule stores a new pending copy of message id due at dueAt. The
// original row is left as it is.
func (s *SchedulingService) Reschedule(ctx context.Context, id int64, dueAt time.Time) (model.ScheduledMessage, error) {
	orig, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return model.ScheduledMessage{}, err
	}

	m, err := s.messages.InsertMessage(ctx, model.ScheduledMessage{
		RecipientName: orig.RecipientName,
		Address:       orig.Address,
		Body:          orig.Body,
		DueAt:         dueAt,
	})
	if err != nil {
		return model.ScheduledMessage{}, fmt.Errorf("store message: %w", err)
	}
	metrics.Scheduled.Inc()
	s.log.Info().Int64("id", m.ID).Int64("from", id).Time("due_at", m.DueAt).Msg("message rescheduled")
	return m, nil
}

func (s *SchedulingService) AddContact(ctx context.Context, name, address string) error {
	return s.contacts.UpsertContact(ctx, name, address)
}

func (s *SchedulingService) RemoveContact(ctx context.Context, name string) error {
	return s.contacts.DeleteContact(ctx, name)
}

func (s *SchedulingService) Contacts(ctx context.Context) ([]model.Contact, error) {
	return s.contacts.ListContacts(ctx)
}

func (s *SchedulingService) Messages(ctx context.Context) ([]model.ScheduledMessage, error) {
	return s.messages.ListMessages(ctx)
}

func (s *SchedulingService) Message(ctx context.Context, id int64) (model.ScheduledMessage, error) {
	return s.messages.GetMessage(ctx, id)
}

func (s *SchedulingService) DeleteMessage(ctx context.Context, id int64) error {
	return s.messages.DeleteMessage(ctx, id)
}

func fillMissing(req, extra parser.Request) parser.Request {
	if req.Recipient == "" {
		req.Recipient = model.NormalizeName(extra.Recipient)
	}
	if req.Body == "" {
		req.Body = strings.TrimSpace(extra.Body)
	}
	if !req.HasDelay && extra.HasDelay {
		req.DelayMinutes = extra.DelayMinutes
		req.HasDelay = true
	}
	return req
}
