package refresh

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := Config{
		Prefix:           "actest",
		TTL:              time.Hour,
		MaxActivePerUser: 5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewStore(client, cfg)
}

func testHash(seed string) [32]byte {
	return sha256.Sum256([]byte(seed))
}

func testDevice() DeviceInfo {
	return DeviceInfo{UserAgent: "test-agent/1.0", IP: "203.0.113.7", Class: DeviceDesktop}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !created.Active {
		t.Fatal("created record not active")
	}

	got, err := s.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("userID = %s, want u1", got.UserID)
	}
	if got.Device.UserAgent != "test-agent/1.0" || got.Device.Class != DeviceDesktop {
		t.Fatalf("device metadata lost: %+v", got.Device)
	}
	if !got.Usable(time.Now()) {
		t.Fatal("fresh record should be usable")
	}

	if _, err := s.Get(ctx, "no-such"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestQuotaEvictsOldestActive(t *testing.T) {
	s := newTestStore(t, func(cfg *Config) { cfg.MaxActivePerUser = 3 })
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("cred-%d", i)
		if _, err := s.Create(ctx, "u1", id, testHash(id), testDevice()); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
		// Distinct creation timestamps so eviction order is deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	n, err := s.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("active count = %d, want 3", n)
	}

	// The two oldest must have been deactivated, the three newest kept.
	for i, wantActive := range map[int]bool{1: false, 2: false, 3: true, 4: true, 5: true} {
		rec, err := s.Get(ctx, fmt.Sprintf("cred-%d", i))
		if err != nil {
			t.Fatalf("Get cred-%d failed: %v", i, err)
		}
		if rec.Active != wantActive {
			t.Fatalf("cred-%d active = %v, want %v", i, rec.Active, wantActive)
		}
	}
}

func TestQuotaDisabledKeepsAll(t *testing.T) {
	s := newTestStore(t, func(cfg *Config) { cfg.MaxActivePerUser = 0 })
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		id := fmt.Sprintf("cred-%d", i)
		if _, err := s.Create(ctx, "u1", id, testHash(id), testDevice()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	n, err := s.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if n != 8 {
		t.Fatalf("active count = %d, want 8", n)
	}
}

func TestRedeemWithoutRotation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, err := s.Redeem(ctx, "cred-1", testHash("s1"), nil)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if rec.UserID != "u1" {
		t.Fatalf("userID = %s", rec.UserID)
	}
	if !rec.Active {
		t.Fatal("record should stay active without rotation")
	}

	// Redeemable again.
	if _, err := s.Redeem(ctx, "cred-1", testHash("s1"), nil); err != nil {
		t.Fatalf("second Redeem failed: %v", err)
	}
}

func TestRedeemRejectsWrongSecret(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Redeem(ctx, "cred-1", testHash("wrong"), nil); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("Redeem = %v, want ErrSecretMismatch", err)
	}
	// A mismatch must not deactivate the record.
	rec, err := s.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Active {
		t.Fatal("record deactivated by failed redeem")
	}
}

func TestRedeemExpired(t *testing.T) {
	s := newTestStore(t, func(cfg *Config) { cfg.TTL = 30 * time.Millisecond })
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := s.Redeem(ctx, "cred-1", testHash("s1"), nil); !errors.Is(err, ErrExpired) {
		t.Fatalf("Redeem = %v, want ErrExpired", err)
	}
}

func TestRotationDeactivatesOldActivatesNew(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	repl := &Replacement{ID: "cred-2", SecretHash: testHash("s2")}
	if _, err := s.Redeem(ctx, "cred-1", testHash("s1"), repl); err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}

	old, err := s.Get(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Get old failed: %v", err)
	}
	if old.Active {
		t.Fatal("rotated-out credential still active")
	}

	next, err := s.Get(ctx, "cred-2")
	if err != nil {
		t.Fatalf("Get replacement failed: %v", err)
	}
	if !next.Active {
		t.Fatal("replacement credential not active")
	}
	if next.UserID != "u1" {
		t.Fatalf("replacement userID = %s", next.UserID)
	}
	if next.Device != old.Device {
		t.Fatalf("replacement lost device metadata: %+v vs %+v", next.Device, old.Device)
	}

	// Replay of the rotated-out credential is rejected as inactive.
	if _, err := s.Redeem(ctx, "cred-1", testHash("s1"), &Replacement{ID: "cred-3", SecretHash: testHash("s3")}); !errors.Is(err, ErrInactive) {
		t.Fatalf("replay = %v, want ErrInactive", err)
	}
	// The replacement from the replay attempt must not exist.
	if _, err := s.Get(ctx, "cred-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay replacement = %v, want ErrNotFound", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repl := &Replacement{ID: fmt.Sprintf("next-%d", i), SecretHash: testHash(fmt.Sprintf("n%d", i))}
			_, results[i] = s.Redeem(ctx, "cred-1", testHash("s1"), repl)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInactive):
		default:
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	n, err := s.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("active count after rotation storm = %d, want 1", n)
	}
}

func TestDeactivateIsIdempotent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Deactivate(ctx, "cred-1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := s.Deactivate(ctx, "cred-1"); err != nil {
		t.Fatalf("second Deactivate failed: %v", err)
	}
	if err := s.Deactivate(ctx, "never-existed"); err != nil {
		t.Fatalf("Deactivate of absent credential failed: %v", err)
	}

	if _, err := s.Redeem(ctx, "cred-1", testHash("s1"), nil); !errors.Is(err, ErrInactive) {
		t.Fatalf("Redeem after deactivate = %v, want ErrInactive", err)
	}
}

func TestDeactivateAll(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("cred-%d", i)
		if _, err := s.Create(ctx, "u1", id, testHash(id), testDevice()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := s.Create(ctx, "u2", "other", testHash("other"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := s.DeactivateAll(ctx, "u1")
	if err != nil {
		t.Fatalf("DeactivateAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("deactivated = %d, want 3", n)
	}

	left, err := s.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if left != 0 {
		t.Fatalf("u1 active count = %d, want 0", left)
	}

	// Other users untouched, repeat call is a no-op.
	if n, _ := s.ActiveCount(ctx, "u2"); n != 1 {
		t.Fatalf("u2 active count = %d, want 1", n)
	}
	if n, _ := s.DeactivateAll(ctx, "u1"); n != 0 {
		t.Fatalf("repeat DeactivateAll = %d, want 0", n)
	}
}

func TestListActiveOrdersOldestFirst(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("cred-%d", i)
		if _, err := s.Create(ctx, "u1", id, testHash(id), testDevice()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	recs, err := s.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		want := fmt.Sprintf("cred-%d", i+1)
		if rec.ID != want {
			t.Fatalf("recs[%d].ID = %s, want %s", i, rec.ID, want)
		}
	}
}

func TestSweepDropsExpiredRecords(t *testing.T) {
	s := newTestStore(t, func(cfg *Config) { cfg.TTL = 30 * time.Millisecond })
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", "cred-1", testHash("s1"), testDevice()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if n, _ := s.ActiveCount(ctx, "u1"); n != 0 {
		t.Fatalf("active count after sweep = %d, want 0", n)
	}
}
