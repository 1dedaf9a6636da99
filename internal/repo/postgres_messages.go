package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return fmt.Errorf("read postgres schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertContact(ctx context.Context, name, address string) error {
	name, address, err := validateContact(name, address)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO contacts (name, address) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET address = EXCLUDED.address
`
	_, err = s.pool.Exec(ctx, q, name, address)
	return err
}

func (s *PostgresStore) LookupContact(ctx context.Context, name string) (string, bool, error) {
	var address string
	err := s.pool.QueryRow(ctx, `SELECT address FROM contacts WHERE name = $1`, model.NormalizeName(name)).Scan(&address)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return address, true, nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE name = $1`, model.NormalizeName(name))
	return err
}

func (s *PostgresStore) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, address FROM contacts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Contact, 0)
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.Name, &c.Address); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m model.ScheduledMessage) (model.ScheduledMessage, error) {
	if strings.TrimSpace(m.Body) == "" {
		return model.ScheduledMessage{}, ErrEmptyBody
	}
	// TIMESTAMPTZ keeps microseconds.
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	dueAt := m.DueAt.UTC().Truncate(time.Microsecond)
	m.RecipientName = strings.TrimSpace(m.RecipientName)

	const q = `
INSERT INTO scheduled_messages (recipient_name, address, body, due_at, created_at, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
RETURNING id
`
	var id int64
	if err := s.pool.QueryRow(ctx, q, m.RecipientName, m.Address, m.Body, dueAt, createdAt).Scan(&id); err != nil {
		return model.ScheduledMessage{}, err
	}

	m.ID = id
	m.DueAt = dueAt
	m.CreatedAt = createdAt
	m.Status = model.Pending
	m.SentAt = nil
	m.LastError = nil
	return m, nil
}

const postgresMessageColumns = `id, recipient_name, address, body, due_at, created_at, status, sent_at, last_error`

func (s *PostgresStore) FindDue(ctx context.Context, now time.Time) ([]model.ScheduledMessage, error) {
	q := `SELECT ` + postgresMessageColumns + ` FROM scheduled_messages
WHERE status = 'pending' AND due_at <= $1
ORDER BY due_at ASC, id ASC`
	return s.queryMessages(ctx, q, now.UTC())
}

func (s *PostgresStore) ListMessages(ctx context.Context) ([]model.ScheduledMessage, error) {
	q := `SELECT ` + postgresMessageColumns + ` FROM scheduled_messages ORDER BY due_at ASC, id ASC`
	return s.queryMessages(ctx, q)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (model.ScheduledMessage, error) {
	q := `SELECT ` + postgresMessageColumns + ` FROM scheduled_messages WHERE id = $1`
	m, err := scanPostgresMessage(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ScheduledMessage{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	const q = `
UPDATE scheduled_messages
SET status = 'sent', sent_at = $1, last_error = NULL
WHERE id = $2 AND status = 'pending'
`
	tag, err := s.pool.Exec(ctx, q, sentAt.UTC(), id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	const q = `
UPDATE scheduled_messages
SET status = 'failed', last_error = $1
WHERE id = $2 AND status = 'pending'
`
	tag, err := s.pool.Exec(ctx, q, reason, id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM scheduled_messages WHERE status IN ('sent', 'failed') AND due_at < $1`
	tag, err := s.pool.Exec(ctx, q, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, id int64) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scheduled_messages WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return transitionError(id, status)
}

func (s *PostgresStore) queryMessages(ctx context.Context, q string, args ...any) ([]model.ScheduledMessage, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanPostgresMessage(row pgx.Row) (model.ScheduledMessage, error) {
	var (
		m      model.ScheduledMessage
		status string
	)
	if err := row.Scan(&m.ID, &m.RecipientName, &m.Address, &m.Body, &m.DueAt, &m.CreatedAt, &status, &m.SentAt, &m.LastError); err != nil {
		return model.ScheduledMessage{}, err
	}
	m.DueAt = m.DueAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.Status = model.Status(status)
	if m.SentAt != nil {
		t := m.SentAt.UTC()
		m.SentAt = &t
	}
	return m, nil
}
