package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = 10 * time.Second
	defaultRetry     = 25 * time.Millisecond
	defaultKeyPrefix = "storefront:lock:"
)

// ErrLockTimeout is returned when the lock could not be taken before the caller gave up.
var ErrLockTimeout = errors.New("locks: timed out waiting for lock")

// releaseScript deletes the key only while it still holds our token, so a lock that expired and
// was re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker is a lease-based lock shared by every API instance. The lease bounds how long a
// crashed holder can block others.
type RedisLocker struct {
	client  redisClient
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
	prefix  string
}

// RedisOption customises a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLeaseTTL sets how long a lock is held before Redis expires it.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithMaxWait bounds how long Lock polls when the caller's context has no deadline.
func WithMaxWait(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.maxWait = d
		}
	}
}

// NewRedisLocker constructs a RedisLocker over an existing client.
func NewRedisLocker(client redisClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, ttl: defaultTTL, retry: defaultRetry, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.maxWait <= 0 {
		l.maxWait = l.ttl
	}
	return l
}

// Lock polls SET NX until the key is acquired, ctx ends, or the wait bound passes.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locks: redis client not configured")
	}
	redisKey := l.prefix + key
	token := ulid.Make().String()

	ctx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("locks: acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
