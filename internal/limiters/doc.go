// Package limiters contains the Redis-backed failed-login lockout limiter.
//
// The lock is self-healing state: the lock key's TTL is the lock window, so a
// locked account unlocks itself when the window elapses without any sweeper.
package limiters
