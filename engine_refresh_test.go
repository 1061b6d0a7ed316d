package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshRotatesCredential(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, nil)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if next.AccessToken == "" {
		t.Fatal("empty access token")
	}

	// The presented credential is spent; its replacement works.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("replayed token = %v, want ErrRefreshInvalid", err)
	}
	if _, err := engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("replacement token refresh failed: %v", err)
	}

	// Rotation replaces rather than adds: still one active session.
	sessions, err := engine.Sessions(ctx, "u1")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(sessions))
	}
}

func TestRefreshWithoutRotationKeepsToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, func(cfg *Config) {
		cfg.Refresh.Rotation = false
	})
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		next, err := engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		if next.RefreshToken != pair.RefreshToken {
			t.Fatal("rotation disabled but refresh token changed")
		}
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine := newTestEngine(t, rdb, &mockUserProvider{}, nil)

	for _, token := range []string{"", "not-base64!!!", "dG9vLXNob3J0"} {
		if _, err := engine.Refresh(context.Background(), token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("Refresh(%q) = %v, want ErrRefreshInvalid", token, err)
		}
	}
}

func TestRefreshAfterLogoutFails(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, nil)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("Refresh after logout = %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshDeactivatedAccountRevokesCredential(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, nil)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	user := up.user("u1")
	user.Active = false
	up.setUser(user)

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("Refresh = %v, want ErrAccountDeactivated", err)
	}

	// The credential was revoked in passing: reactivating the account does
	// not resurrect it.
	user.Active = true
	up.setUser(user)
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("Refresh after reactivation = %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshPropagatesRoleChange(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, nil)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	user := up.user("u1")
	user.Role = "admin"
	up.setUser(user)

	// The outstanding access token still carries the issuance-time role.
	res, err := engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if res.Role != "admin" {
		// Authenticate re-reads the user record, so Role reflects storage.
		t.Fatalf("authenticate role = %s, want admin", res.Role)
	}
	oldClaims, err := engine.jwtManager.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if oldClaims.Role != "member" {
		t.Fatalf("issued claims role = %s, want member", oldClaims.Role)
	}

	// The refreshed token picks up the new role.
	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	newClaims, err := engine.jwtManager.ParseAccess(next.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if newClaims.Role != "admin" {
		t.Fatalf("refreshed claims role = %s, want admin", newClaims.Role)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	up := &mockUserProvider{}
	hasher := newTestHasher(t)
	seedUser(t, up, hasher, "u1", "alice", "correct-horse", "member")

	engine := newTestEngine(t, rdb, up, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	pairs := make([]*TokenPair, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], results[i] = engine.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner *TokenPair
	for i, err := range results {
		switch {
		case err == nil:
			winners++
			winner = pairs[i]
		case errors.Is(err, ErrRefreshInvalid):
		default:
			t.Fatalf("racer %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	// The single replacement credential works.
	if _, err := engine.Refresh(ctx, winner.RefreshToken); err != nil {
		t.Fatalf("winner replacement refresh failed: %v", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != racers-1 {
		t.Fatalf("reuse detections = %d, want %d", got, racers-1)
	}
}
