// Package lockx provides best-effort mutual exclusion on top of redis SET NX.
// Locks expire on their own; holders are expected to finish inside the TTL.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNoClient   = errors.New("redis client not initialized")
	ErrInvalidTTL = errors.New("ttl must be > 0")
)

// releaseScript deletes the key only when the stored token matches, so a
// holder cannot release a lock that already expired and was re-acquired.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Lock is a held lock. The token ties the release back to this acquisition.
type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Acquire attempts to take the lock. The second return reports whether the
// lock was obtained; false with a nil error means another holder owns it.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, ErrNoClient
	}
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	lock := &Lock{Key: key, Token: uuid.NewString(), TTL: ttl}
	acquired, err := client.SetNX(ctx, lock.Key, lock.Token, lock.TTL).Result()
	if err != nil || !acquired {
		return nil, false, err
	}
	return lock, true, nil
}

// Release gives the lock back. Releasing an expired lock is a no-op.
func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return ErrNoClient
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err()
}
