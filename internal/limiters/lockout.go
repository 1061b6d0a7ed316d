package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the failed-login lockout limiter.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration // lock window; also the rolling window for counting failures
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutLimiter tracks consecutive failed login attempts per user and holds a
// timed lock once the threshold is reached. The lock key's TTL is the
// lock-until timestamp: a user is locked exactly while the key exists.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) failKey(userID string) string {
	return "alo:f:" + userID
}

func (l *LockoutLimiter) lockKey(userID string) string {
	return "alo:l:" + userID
}

// RecordFailure increments the failure counter for a user and, when the
// threshold is reached, sets the timed lock and clears the counter.
// Returns true if this failure triggered the lock.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !l.config.Enabled || userID == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.failKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.Duration > 0 {
		// TTL on the first failure makes the counter a rolling window.
		if err := l.redis.Expire(ctx, l.failKey(userID), l.config.Duration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if count < int64(l.config.Threshold) {
		return false, nil
	}

	if err := l.Lock(ctx, userID, l.config.Duration); err != nil {
		return false, err
	}
	if err := l.redis.Del(ctx, l.failKey(userID)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// IsLocked reports whether the user is currently locked and, when locked with
// a finite duration, the time the lock expires.
func (l *LockoutLimiter) IsLocked(ctx context.Context, userID string) (bool, time.Time, error) {
	if !l.config.Enabled || userID == "" {
		return false, time.Time{}, nil
	}

	ttl, err := l.redis.PTTL(ctx, l.lockKey(userID)).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	switch {
	case ttl == -2: // key does not exist
		return false, time.Time{}, nil
	case ttl == -1: // locked without expiry (manual unlock only)
		return true, time.Time{}, nil
	default:
		return true, time.Now().Add(ttl), nil
	}
}

// Lock places a lock on the user. A zero duration locks until manual unlock.
func (l *LockoutLimiter) Lock(ctx context.Context, userID string, d time.Duration) error {
	if !l.config.Enabled || userID == "" {
		return nil
	}

	var err error
	if d > 0 {
		err = l.redis.Set(ctx, l.lockKey(userID), "1", d).Err()
	} else {
		err = l.redis.Set(ctx, l.lockKey(userID), "1", 0).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Reset clears both the lock and the failure counter, e.g. after a successful
// login or an administrative unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if !l.config.Enabled || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.failKey(userID), l.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count for a user.
func (l *LockoutLimiter) FailureCount(ctx context.Context, userID string) (int, error) {
	if !l.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.failKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
