package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, mutate func(*LockoutConfig)) (*miniredis.Miniredis, *LockoutLimiter) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := LockoutConfig{
		Enabled:   true,
		Threshold: 3,
		Duration:  time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return mr, NewLockoutLimiter(client, cfg)
}

func TestThresholdTriggersLock(t *testing.T) {
	_, l := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		triggered, err := l.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i+1, err)
		}
		if triggered {
			t.Fatalf("failure %d triggered lock below threshold", i+1)
		}
	}

	triggered, err := l.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !triggered {
		t.Fatal("threshold failure did not trigger lock")
	}

	locked, until, err := l.IsLocked(ctx, "u1")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if !locked {
		t.Fatal("user not locked after threshold")
	}
	if until.IsZero() || time.Until(until) > time.Minute+time.Second {
		t.Fatalf("lock until = %v", until)
	}

	// The counter was consumed by the lock.
	if n, _ := l.FailureCount(ctx, "u1"); n != 0 {
		t.Fatalf("failure count after lock = %d, want 0", n)
	}
}

func TestLockExpiresWithTTL(t *testing.T) {
	mr, l := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.RecordFailure(ctx, "u1")
	}
	if locked, _, _ := l.IsLocked(ctx, "u1"); !locked {
		t.Fatal("user not locked")
	}

	mr.FastForward(time.Minute + time.Second)

	if locked, _, _ := l.IsLocked(ctx, "u1"); locked {
		t.Fatal("lock outlived its TTL")
	}
}

func TestFailureWindowRolls(t *testing.T) {
	mr, l := newTestLimiter(t, nil)
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "u1")
	_, _ = l.RecordFailure(ctx, "u1")

	// The counter key expires with the window; stale failures do not
	// accumulate toward a lock forever.
	mr.FastForward(time.Minute + time.Second)

	if n, _ := l.FailureCount(ctx, "u1"); n != 0 {
		t.Fatalf("failure count after window = %d, want 0", n)
	}
	triggered, err := l.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if triggered {
		t.Fatal("single failure after window triggered lock")
	}
}

func TestResetClearsLockAndCounter(t *testing.T) {
	_, l := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.RecordFailure(ctx, "u1")
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if locked, _, _ := l.IsLocked(ctx, "u1"); locked {
		t.Fatal("user locked after reset")
	}
	if n, _ := l.FailureCount(ctx, "u1"); n != 0 {
		t.Fatalf("failure count after reset = %d", n)
	}
}

func TestManualLockWithoutDuration(t *testing.T) {
	_, l := newTestLimiter(t, nil)
	ctx := context.Background()

	if err := l.Lock(ctx, "u1", 0); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	locked, until, err := l.IsLocked(ctx, "u1")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if !locked {
		t.Fatal("user not locked")
	}
	if !until.IsZero() {
		t.Fatalf("indefinite lock reported until = %v", until)
	}
}

func TestDisabledLimiterIsInert(t *testing.T) {
	_, l := newTestLimiter(t, func(cfg *LockoutConfig) { cfg.Enabled = false })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		triggered, err := l.RecordFailure(ctx, "u1")
		if err != nil || triggered {
			t.Fatalf("disabled limiter = (%v, %v)", triggered, err)
		}
	}
	if locked, _, _ := l.IsLocked(ctx, "u1"); locked {
		t.Fatal("disabled limiter locked a user")
	}
}

func TestUsersAreIsolated(t *testing.T) {
	_, l := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.RecordFailure(ctx, "u1")
	}

	if locked, _, _ := l.IsLocked(ctx, "u2"); locked {
		t.Fatal("unrelated user locked")
	}
	if n, _ := l.FailureCount(ctx, "u2"); n != 0 {
		t.Fatalf("unrelated failure count = %d", n)
	}
}
