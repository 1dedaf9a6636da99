package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ContactUpsertIsCaseInsensitive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertContact(ctx, "John", "+15550001"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := s.UpsertContact(ctx, "JOHN", "+15550002"); err != nil {
			t.Fatalf("upsert again: %v", err)
		}

		contacts, err := s.ListContacts(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(contacts) != 1 {
			t.Fatalf("expected 1 contact, got %d", len(contacts))
		}
		if contacts[0].Name != "john" || contacts[0].Address != "+15550002" {
			t.Fatalf("unexpected contact: %+v", contacts[0])
		}

		addr, found, err := s.LookupContact(ctx, " john ")
		if err != nil || !found || addr != "+15550002" {
			t.Fatalf("lookup: addr=%q found=%v err=%v", addr, found, err)
		}
	})

	t.Run("ContactMissingIsNotAnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, found, err := s.LookupContact(ctx, "nobody")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if found {
			t.Fatalf("expected not found")
		}
		if err := s.DeleteContact(ctx, "nobody"); err != nil {
			t.Fatalf("delete missing contact: %v", err)
		}
	})

	t.Run("ContactValidationAndOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertContact(ctx, "  ", "+1"); !errors.Is(err, ErrInvalidContact) {
			t.Fatalf("expected ErrInvalidContact, got %v", err)
		}
		for _, name := range []string{"zoe", "adam", "mia"} {
			if err := s.UpsertContact(ctx, name, "+1"+name); err != nil {
				t.Fatalf("upsert %s: %v", name, err)
			}
		}
		if err := s.DeleteContact(ctx, "MIA"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		contacts, err := s.ListContacts(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(contacts) != 2 || contacts[0].Name != "adam" || contacts[1].Name != "zoe" {
			t.Fatalf("unexpected contacts: %+v", contacts)
		}
	})

	t.Run("InsertRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		due := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

		in, err := s.InsertMessage(ctx, model.ScheduledMessage{
			RecipientName: "John",
			Address:       "+15550001",
			Body:          "test message",
			DueAt:         due,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if in.ID == 0 || in.Status != model.Pending || in.CreatedAt.IsZero() {
			t.Fatalf("unexpected inserted message: %+v", in)
		}

		got, err := s.GetMessage(ctx, in.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.RecipientName != "John" || got.Address != "+15550001" || got.Body != "test message" {
			t.Fatalf("unexpected message: %+v", got)
		}
		if !got.DueAt.Equal(due) {
			t.Fatalf("expected dueAt %v, got %v", due, got.DueAt)
		}
		if got.SentAt != nil || got.LastError != nil {
			t.Fatalf("expected no sentAt/lastError on a pending message: %+v", got)
		}

		if _, err := s.InsertMessage(ctx, model.ScheduledMessage{RecipientName: "john", Address: "+1", Body: " ", DueAt: due}); !errors.Is(err, ErrEmptyBody) {
			t.Fatalf("expected ErrEmptyBody, got %v", err)
		}
	})

	t.Run("FindDueReturnsPendingInDueOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		late := mustInsert(t, s, "late", now.Add(-time.Hour))
		early := mustInsert(t, s, "early", now.Add(-2*time.Hour))
		exact := mustInsert(t, s, "exact", now)
		_ = mustInsert(t, s, "future", now.Add(time.Hour))
		done := mustInsert(t, s, "done", now.Add(-3*time.Hour))
		if err := s.MarkSent(ctx, done.ID, now); err != nil {
			t.Fatalf("mark sent: %v", err)
		}

		due, err := s.FindDue(ctx, now)
		if err != nil {
			t.Fatalf("find due: %v", err)
		}
		want := []int64{early.ID, late.ID, exact.ID}
		if len(due) != len(want) {
			t.Fatalf("expected %d due messages, got %d", len(want), len(due))
		}
		for i, m := range due {
			if m.ID != want[i] {
				t.Fatalf("position %d: expected id %d, got %d", i, want[i], m.ID)
			}
			if !m.Due(now) {
				t.Fatalf("returned message %d is not due: %+v", m.ID, m)
			}
		}
	})

	t.Run("TerminalMessagesAreImmutable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		m := mustInsert(t, s, "x", now)
		if err := s.MarkSent(ctx, m.ID, now); err != nil {
			t.Fatalf("mark sent: %v", err)
		}
		if err := s.MarkSent(ctx, m.ID, now.Add(time.Minute)); !errors.Is(err, ErrNotPending) {
			t.Fatalf("expected ErrNotPending on second MarkSent, got %v", err)
		}
		if err := s.MarkFailed(ctx, m.ID, "late"); !errors.Is(err, ErrNotPending) {
			t.Fatalf("expected ErrNotPending on MarkFailed after sent, got %v", err)
		}

		got, err := s.GetMessage(ctx, m.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.Sent || got.SentAt == nil || !got.SentAt.Equal(now) {
			t.Fatalf("expected sent at %v, got %+v", now, got)
		}

		f := mustInsert(t, s, "y", now)
		if err := s.MarkFailed(ctx, f.ID, "network down"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if err := s.MarkSent(ctx, f.ID, now); !errors.Is(err, ErrNotPending) {
			t.Fatalf("expected ErrNotPending on MarkSent after failed, got %v", err)
		}
		got, err = s.GetMessage(ctx, f.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.Failed || got.LastError == nil || *got.LastError != "network down" {
			t.Fatalf("unexpected failed message: %+v", got)
		}
	})

	t.Run("UnknownIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.MarkSent(ctx, 9999, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from MarkSent, got %v", err)
		}
		if err := s.MarkFailed(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from MarkFailed, got %v", err)
		}
		if _, err := s.GetMessage(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from GetMessage, got %v", err)
		}
		if err := s.DeleteMessage(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from DeleteMessage, got %v", err)
		}
	})

	t.Run("DeleteAndPurge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		pending := mustInsert(t, s, "pending", now.Add(-48*time.Hour))
		oldSent := mustInsert(t, s, "old sent", now.Add(-48*time.Hour))
		oldFailed := mustInsert(t, s, "old failed", now.Add(-48*time.Hour))
		recentSent := mustInsert(t, s, "recent sent", now.Add(-time.Minute))
		for _, id := range []int64{oldSent.ID, recentSent.ID} {
			if err := s.MarkSent(ctx, id, now); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
		}
		if err := s.MarkFailed(ctx, oldFailed.ID, "boom"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}

		n, err := s.PurgeTerminal(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 purged, got %d", n)
		}

		if err := s.DeleteMessage(ctx, pending.ID); err != nil {
			t.Fatalf("delete pending: %v", err)
		}
		left, err := s.ListMessages(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(left) != 1 || left[0].ID != recentSent.ID {
			t.Fatalf("expected only the recent sent message, got %+v", left)
		}
	})
}

func mustInsert(t *testing.T, s Store, body string, due time.Time) model.ScheduledMessage {
	t.Helper()
	m, err := s.InsertMessage(context.Background(), model.ScheduledMessage{
		RecipientName: "john",
		Address:       "+15550001",
		Body:          body,
		DueAt:         due,
	})
	if err != nil {
		t.Fatalf("insert %q: %v", body, err)
	}
	return m
}
