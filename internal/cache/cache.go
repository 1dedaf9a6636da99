package cache

import (
	"context"
	"time"
)

// MessageCache records delivery receipts for sent messages.
type MessageCache interface {
	StoreSent(ctx context.Context, internalID int64, remoteMessageID string, sentAt time.Time) error
}

// TickLock lets only one dispatcher instance run a tick at a time.
// RefreshTickLock extends a held lock and reports false once it is lost.
type TickLock interface {
	AcquireTickLock(ctx context.Context) (bool, error)
	RefreshTickLock(ctx context.Context) (bool, error)
	ReleaseTickLock(ctx context.Context) error
}
