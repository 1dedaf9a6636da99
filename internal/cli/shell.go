// Package cli is the interactive operator console. It reads commands and
// prompt answers from the same input stream.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/parser"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

const timeLayout = "2006-01-02 15:04:05"

// Scheduler is the background dispatch loop the shell can start and stop.
type Scheduler interface {
	Start(ctx context.Context) bool
	Stop() bool
	IsRunning() bool
}

type command struct {
	// Route is matched case-insensitively against the start of the line.
	Route       string
	Usage       string
	Description string
	Handle      func(ctx context.Context, args string) error
}

type Shell struct {
	svc      *service.SchedulingService
	sched    Scheduler
	in       *bufio.Scanner
	out      io.Writer
	now      func() time.Time
	commands []command
	// routes holds commands longest route first for matching.
	routes []command
	quit   bool
}

func New(svc *service.SchedulingService, sched Scheduler, in io.Reader, out io.Writer) *Shell {
	s := &Shell{
		svc:   svc,
		sched: sched,
		in:    bufio.NewScanner(in),
		out:   out,
		now:   time.Now,
	}
	s.commands = []command{
		{Route: "add contact", Usage: "add contact <name> <phone>", Description: "Add or update a contact", Handle: s.addContact},
		{Route: "delete contact", Usage: "delete contact <name>", Description: "Remove a contact", Handle: s.deleteContact},
		{Route: "contacts", Usage: "contacts", Description: "List contacts", Handle: s.listContacts},
		{Route: "schedule", Usage: "schedule <request>", Description: "Schedule a message from a plain-language request", Handle: s.schedule},
		{Route: "send now", Usage: `send now <contact> "<message>"`, Description: "Send a message immediately", Handle: s.sendNow},
		{Route: "send", Usage: "send <id>", Description: "Deliver a pending message ahead of time", Handle: s.sendByID},
		{Route: "list", Usage: "list", Description: "List scheduled messages", Handle: s.listMessages},
		{Route: "delete", Usage: "delete <id>", Description: "Delete a message", Handle: s.deleteMessage},
		{Route: "reschedule", Usage: "reschedule <id> <minutes>", Description: "Schedule a copy of a message <minutes> from now", Handle: s.reschedule},
		{Route: "start", Usage: "start", Description: "Start the scheduler", Handle: s.start},
		{Route: "stop", Usage: "stop", Description: "Stop the scheduler", Handle: s.stop},
		{Route: "help", Usage: "help", Description: "Show this help", Handle: s.help},
		{Route: "quit", Usage: "quit", Description: "Exit the program", Handle: s.exit},
	}
	s.routes = append([]command(nil), s.commands...)
	sort.SliceStable(s.routes, func(i, j int) bool {
		return len(s.routes[i].Route) > len(s.routes[j].Route)
	})
	return s
}

// Run reads commands until quit or end of input. The scheduler is stopped
// before returning.
func (s *Shell) Run(ctx context.Context) error {
	defer s.sched.Stop()

	s.printf("Message Scheduler\n=================\n")
	_ = s.help(ctx, "")

	for !s.quit {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := s.ask("\nEnter command: ")
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			s.printf("\nExiting...\n")
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if err := s.dispatch(ctx, line); err != nil {
			s.report(err)
		}
	}
	return nil
}

func (s *Shell) dispatch(ctx context.Context, line string) error {
	lower := strings.ToLower(line)
	for _, c := range s.routes {
		if lower == c.Route || strings.HasPrefix(lower, c.Route+" ") {
			return c.Handle(ctx, strings.TrimSpace(line[len(c.Route):]))
		}
	}
	s.printf("Unknown command. Try 'help' for available commands.\n")
	return nil
}

func (s *Shell) report(err error) {
	switch {
	case errors.Is(err, service.ErrParseIncomplete):
		s.printf("%v\n%s\n", err, parser.Usage)
	case errors.Is(err, errUsage):
		s.printf("%v\n", err)
	default:
		s.printf("Error: %v\n", err)
	}
}

var errUsage = errors.New("usage")

func usageErr(usage string) error {
	return fmt.Errorf("%w: %s", errUsage, usage)
}

// SelfAddress asks for the operator's own phone number.
func (s *Shell) SelfAddress(ctx context.Context) (string, error) {
	return s.ask("Enter your phone number (with country code, e.g. +919876543210): ")
}

// NewContactAddress offers to add an unknown contact.
func (s *Shell) NewContactAddress(ctx context.Context, name string) (string, error) {
	answer, err := s.ask(fmt.Sprintf("Contact '%s' not found. Add now? (y/n): ", name))
	if err != nil {
		return "", err
	}
	if a := strings.ToLower(answer); a != "y" && a != "yes" {
		return "", nil
	}
	return s.ask(fmt.Sprintf("Enter phone number for %s (with country code): ", name))
}

func (s *Shell) ask(prompt string) (string, error) {
	s.printf("%s", prompt)
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}

func (s *Shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) addContact(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return usageErr("add contact <name> <phone>")
	}
	if err := s.svc.AddContact(ctx, fields[0], fields[1]); err != nil {
		return err
	}
	s.printf("Contact %s added.\n", model.DisplayName(fields[0]))
	return nil
}

func (s *Shell) deleteContact(ctx context.Context, args string) error {
	if args == "" {
		return usageErr("delete contact <name>")
	}
	if err := s.svc.RemoveContact(ctx, args); err != nil {
		return err
	}
	s.printf("Contact %s removed.\n", model.DisplayName(args))
	return nil
}

func (s *Shell) listContacts(ctx context.Context, _ string) error {
	contacts, err := s.svc.Contacts(ctx)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		s.printf("No contacts.\n")
		return nil
	}
	for _, c := range contacts {
		s.printf("%s: %s\n", model.DisplayName(c.Name), c.Address)
	}
	return nil
}

func (s *Shell) schedule(ctx context.Context, args string) error {
	if args == "" {
		return usageErr("schedule <request>")
	}
	m, err := s.svc.Schedule(ctx, args, s)
	if err != nil {
		return err
	}
	s.printf("Message scheduled (#%d)\nTo: %s (%s)\nMessage: %s\nScheduled for: %s\n",
		m.ID, model.DisplayName(m.RecipientName), m.Address, m.Body, m.DueAt.Local().Format(timeLayout))
	return nil
}

func (s *Shell) sendNow(ctx context.Context, args string) error {
	const usage = `send now <contact> "<message>"`
	contact, rest, ok := strings.Cut(args, `"`)
	if !ok {
		return usageErr(usage)
	}
	body, _, _ := strings.Cut(rest, `"`)
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return usageErr(usage)
	}

	s.printf("Sending immediate message to %s...\n", contact)
	if err := s.svc.SendImmediately(ctx, contact, body); err != nil {
		return err
	}
	s.printf("Message sent to %s\n", contact)
	return nil
}

func (s *Shell) sendByID(ctx context.Context, args string) error {
	id, err := parseID(args, "send <id>")
	if err != nil {
		return err
	}
	m, err := s.svc.SendNow(ctx, id)
	if err != nil {
		return err
	}
	if m.Status == model.Failed && m.LastError != nil {
		s.printf("Message #%d failed: %s\n", m.ID, *m.LastError)
		return nil
	}
	s.printf("Message #%d %s\n", m.ID, m.Status)
	return nil
}

func (s *Shell) listMessages(ctx context.Context, _ string) error {
	msgs, err := s.svc.Messages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		s.printf("No scheduled messages found.\n")
		return nil
	}
	s.printf("\n=== Scheduled Messages ===\n")
	for _, m := range msgs {
		s.printf("#%d To: %s\nMessage: %s\nScheduled: %s\nStatus: %s\n",
			m.ID, model.DisplayName(m.RecipientName), m.Body, m.DueAt.Local().Format(timeLayout), m.Status)
		if m.LastError != nil {
			s.printf("Error: %s\n", *m.LastError)
		}
		s.printf("%s\n", strings.Repeat("-", 30))
	}
	return nil
}

func (s *Shell) deleteMessage(ctx context.Context, args string) error {
	id, err := parseID(args, "delete <id>")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.printf("Message #%d deleted.\n", id)
	return nil
}

func (s *Shell) reschedule(ctx context.Context, args string) error {
	const usage = "reschedule <id> <minutes>"
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return usageErr(usage)
	}
	id, err := parseID(fields[0], usage)
	if err != nil {
		return err
	}
	minutes, err := strconv.Atoi(fields[1])
	if err != nil || minutes < 0 {
		return usageErr(usage)
	}
	m, err := s.svc.Reschedule(ctx, id, s.now().Add(time.Duration(minutes)*time.Minute))
	if err != nil {
		return err
	}
	s.printf("Message #%d scheduled as #%d for %s\n", id, m.ID, m.DueAt.Local().Format(timeLayout))
	return nil
}

func (s *Shell) start(ctx context.Context, _ string) error {
	if !s.sched.Start(ctx) {
		s.printf("Scheduler is already running.\n")
		return nil
	}
	s.printf("Scheduler started.\n")
	return nil
}

func (s *Shell) stop(ctx context.Context, _ string) error {
	if !s.sched.Stop() {
		s.printf("Scheduler is not running.\n")
		return nil
	}
	s.printf("Scheduler stopped.\n")
	return nil
}

func (s *Shell) help(ctx context.Context, _ string) error {
	s.printf("Commands:\n")
	for _, c := range s.commands {
		s.printf("  %-32s %s\n", c.Usage, c.Description)
	}
	return nil
}

func (s *Shell) exit(ctx context.Context, _ string) error {
	s.quit = true
	s.printf("Exiting...\n")
	return nil
}

func parseID(raw, usage string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErr(usage)
	}
	return id, nil
}
