package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

// SQLiteStore keeps contacts and messages in a single SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	schema, err := schemaFS.ReadFile("schema/sqlite.sql")
	if err != nil {
		return fmt.Errorf("read sqlite schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, name, address string) error {
	name, address, err := validateContact(name, address)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO contacts (name, address) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET address = excluded.address
`
	_, err = s.db.ExecContext(ctx, q, name, address)
	return err
}

func (s *SQLiteStore) LookupContact(ctx context.Context, name string) (string, bool, error) {
	var address string
	err := s.db.QueryRowContext(ctx, `SELECT address FROM contacts WHERE name = ?`, model.NormalizeName(name)).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return address, true, nil
}

func (s *SQLiteStore) DeleteContact(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE name = ?`, model.NormalizeName(name))
	return err
}

func (s *SQLiteStore) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, address FROM contacts ORDER BY name`)
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

func (s *SQLiteStore) InsertMessage(ctx context.Context, m model.ScheduledMessage) (model.ScheduledMessage, error) {
	if strings.TrimSpace(m.Body) == "" {
		return model.ScheduledMessage{}, ErrEmptyBody
	}
	createdAt := toMillis(s.now())
	dueAt := toMillis(m.DueAt)

	const q = `
INSERT INTO scheduled_messages (recipient_name, address, body, due_at, created_at, status)
VALUES (?, ?, ?, ?, ?, 'pending')
`
	m.RecipientName = strings.TrimSpace(m.RecipientName)
	res, err := s.db.ExecContext(ctx, q, m.RecipientName, m.Address, m.Body, dueAt, createdAt)
	if err != nil {
		return model.ScheduledMessage{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ScheduledMessage{}, err
	}

	m.ID = id
	m.DueAt = fromMillis(dueAt)
	m.CreatedAt = fromMillis(createdAt)
	m.Status = model.Pending
	m.SentAt = nil
	m.LastError = nil
	return m, nil
}

const sqliteMessageColumns = `id, recipient_name, address, body, due_at, created_at, status, sent_at, last_error`

func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time) ([]model.ScheduledMessage, error) {
	q := `SELECT ` + sqliteMessageColumns + ` FROM scheduled_messages
WHERE status = 'pending' AND due_at <= ?
ORDER BY due_at ASC, id ASC`
	return s.queryMessages(ctx, q, toMillis(now))
}

func (s *SQLiteStore) ListMessages(ctx context.Context) ([]model.ScheduledMessage, error) {
	q := `SELECT ` + sqliteMessageColumns + ` FROM scheduled_messages ORDER BY due_at ASC, id ASC`
	return s.queryMessages(ctx, q)
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (model.ScheduledMessage, error) {
	q := `SELECT ` + sqliteMessageColumns + ` FROM scheduled_messages WHERE id = ?`
	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduledMessage{}, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	const q = `
UPDATE scheduled_messages
SET status = 'sent', sent_at = ?, last_error = NULL
WHERE id = ? AND status = 'pending'
`
	res, err := s.db.ExecContext(ctx, q, toMillis(sentAt), id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	const q = `
UPDATE scheduled_messages
SET status = 'failed', last_error = ?
WHERE id = ? AND status = 'pending'
`
	res, err := s.db.ExecContext(ctx, q, reason, id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM scheduled_messages WHERE status IN ('sent', 'failed') AND due_at < ?`
	res, err := s.db.ExecContext(ctx, q, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// checkTransition explains a guarded update that touched no row.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM scheduled_messages WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return transitionError(id, status)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, q string, args ...any) ([]model.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ScheduledMessage, 0)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (model.ScheduledMessage, error) {
	var (
		m         model.ScheduledMessage
		dueAt     int64
		createdAt int64
		status    string
		sentAt    sql.NullInt64
		lastError sql.NullString
	)
	if err := row.Scan(&m.ID, &m.RecipientName, &m.Address, &m.Body, &dueAt, &createdAt, &status, &sentAt, &lastError); err != nil {
		return model.ScheduledMessage{}, err
	}
	m.DueAt = fromMillis(dueAt)
	m.CreatedAt = fromMillis(createdAt)
	m.Status = model.Status(status)
	if sentAt.Valid {
		t := fromMillis(sentAt.Int64)
		m.SentAt = &t
	}
	if lastError.Valid {
		e := lastError.String
		m.LastError = &e
	}
	return m, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
