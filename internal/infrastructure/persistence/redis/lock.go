package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements progress.Locker with SET NX PX leases.
// The lease TTL bounds how long a crashed holder blocks the user.
type Locker struct {
	cache      *Cache
	ttl        time.Duration
	retryEvery time.Duration
	log        *logger.Logger
}

// NewLocker creates a locker. ttl <= 0 uses TTLUserLock.
func NewLocker(cache *Cache, ttl time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = TTLUserLock
	}
	if log == nil {
		log = logger.Default()
	}
	return &Locker{
		cache:      cache,
		ttl:        ttl,
		retryEvery: 25 * time.Millisecond,
		log:        log.With(logger.Component("redis_lock")),
	}
}

// Lock polls until the user's lease is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	key := LockKey(userID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.cache.Client().SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, shared.WrapError("progress", "Lock", shared.ErrLockNotAcquired, "user lock wait cancelled", ctx.Err())
			}
			return nil, shared.StorageError("progress", "Lock", err)
		}
		if ok {
			return l.unlocker(key, token, userID), nil
		}

		select {
		case <-ctx.Done():
			return nil, shared.WrapError("progress", "Lock", shared.ErrLockNotAcquired, "user lock wait cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(key, token, userID string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release user lock", logger.UserID(userID), logger.Err(err))
		}
	}
}
