package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const tickLockKey = "scheduler:tick-lock"

type RedisCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
	owner   string
}

// NewRedisCache stores receipts for ttl. The tick lock expires on its own
// after lockTTL so a crashed holder cannot wedge other instances.
func NewRedisCache(rdb *redis.Client, ttl, lockTTL time.Duration) *RedisCache {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl, lockTTL: lockTTL, owner: uuid.NewString()}
}

type sentValue struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func sentKey(internalID int64) string {
	return fmt.Sprintf("msg:%d", internalID)
}

func (c *RedisCache) StoreSent(ctx context.Context, internalID int64, remoteMessageID string, sentAt time.Time) error {
	val := sentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(internalID), b, c.ttl).Err()
}

// Receipt returns the cached delivery receipt for a message, if any.
func (c *RedisCache) Receipt(ctx context.Context, internalID int64) (remoteMessageID string, sentAt time.Time, found bool, err error) {
	raw, err := c.rdb.Get(ctx, sentKey(internalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}

	var v sentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode receipt %d: %w", internalID, err)
	}
	return v.RemoteMessageID, v.SentAt, true, nil
}

func (c *RedisCache) AcquireTickLock(ctx context.Context) (bool, error) {
	return c.rdb.SetNX(ctx, tickLockKey, c.owner, c.lockTTL).Result()
}

// refreshScript resets the lock TTL only if this instance still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (c *RedisCache) RefreshTickLock(ctx context.Context) (bool, error) {
	n, err := refreshScript.Run(ctx, c.rdb, []string{tickLockKey}, c.owner, c.lockTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// releaseScript deletes the lock only if this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisCache) ReleaseTickLock(ctx context.Context) error {
	return releaseScript.Run(ctx, c.rdb, []string{tickLockKey}, c.owner).Err()
}
