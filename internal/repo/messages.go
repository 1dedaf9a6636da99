package repo

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var (
	// ErrNotFound is returned when no row exists for the requested id.
	ErrNotFound = errors.New("message not found")

	// ErrNotPending is returned when a state transition targets a message that
	// already reached a terminal status.
	ErrNotPending = errors.New("message is not pending")

	ErrInvalidContact = errors.New("contact name and address are required")
	ErrEmptyBody      = errors.New("message body must not be empty")
)

// ContactRepository maps case-insensitive contact names to delivery addresses.
type ContactRepository interface {
	UpsertContact(ctx context.Context, name, address string) error
	// LookupContact reports found=false for a missing contact; that is not an error.
	LookupContact(ctx context.Context, name string) (address string, found bool, err error)
	DeleteContact(ctx context.Context, name string) error
	ListContacts(ctx context.Context) ([]model.Contact, error)
}

// MessageRepository persists scheduled messages and guards their status
// transitions. Every method is a single atomic statement.
type MessageRepository interface {
	InsertMessage(ctx context.Context, m model.ScheduledMessage) (model.ScheduledMessage, error)
	FindDue(ctx context.Context, now time.Time) ([]model.ScheduledMessage, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	GetMessage(ctx context.Context, id int64) (model.ScheduledMessage, error)
	ListMessages(ctx context.Context) ([]model.ScheduledMessage, error)
	DeleteMessage(ctx context.Context, id int64) error
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Store is a backend holding both contacts and messages.
type Store interface {
	ContactRepository
	MessageRepository
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend and applies its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func validateContact(name, address string) (string, string, error) {
	name = model.NormalizeName(name)
	address = strings.TrimSpace(address)
	if name == "" || address == "" {
		return "", "", ErrInvalidContact
	}
	return name, address, nil
}

func transitionError(id int64, status string) error {
	return fmt.Errorf("%w: message %d is %s", ErrNotPending, id, status)
}
