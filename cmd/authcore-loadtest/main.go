// Command authcore-loadtest measures engine throughput for the three hot
// operations: login, authenticate, and refresh. It runs against a real Redis
// when -redis-addr (or REDIS_ADDR) is set, and an embedded miniredis
// otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/authcore-io/authcore"
	"github.com/authcore-io/authcore/password"
)

type accountState struct {
	identifier string
	mu         sync.Mutex
	access     string
	refresh    string
}

const loadtestPassword = "loadtest-password-1"

func main() {
	var (
		users       = flag.Int("users", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		rotation    = flag.Bool("rotation", true, "rotate refresh credentials on every refresh")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-0123456789abcdef0123456")
	cfg.JWT.Issuer = "authcore-loadtest"
	cfg.JWT.AccessTTL = time.Hour // no mid-run expiry
	cfg.Refresh.Rotation = *rotation
	cfg.Lockout.Enabled = false
	// Minimum-cost Argon2: this benchmark measures the token path, not KDF
	// throughput.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	provider := newMemProvider()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(provider).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	hash := mustHash(cfg.Password)
	states := make([]*accountState, *users)
	for i := range states {
		identifier := fmt.Sprintf("user-%d@load.test", i)
		provider.put(authcore.UserRecord{
			UserID:        fmt.Sprintf("u%d", i),
			Identifier:    identifier,
			PasswordHash:  hash,
			Role:          "member",
			EmailVerified: true,
			Active:        true,
		})
		states[i] = &accountState{identifier: identifier}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		state := states[r.Intn(len(states))]
		pair, err := engine.Login(ctx, state.identifier, loadtestPassword)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.access = pair.AccessToken
		state.refresh = pair.RefreshToken
		state.mu.Unlock()
		return nil
	})

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		state := states[r.Intn(len(states))]
		state.mu.Lock()
		access := state.access
		state.mu.Unlock()
		if access == "" {
			return nil
		}
		_, err := engine.Authenticate(ctx, access)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		state := states[r.Intn(len(states))]

		// Serialize per account: under rotation a stale token is a
		// guaranteed failure, which would measure the test and not the
		// engine.
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.refresh == "" {
			return nil
		}
		pair, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = pair.AccessToken
		state.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

// mustHash produces one stored hash compatible with the engine's verifier;
// every seeded account shares the password, so one hash is enough.
func mustHash(pc authcore.PasswordConfig) string {
	hasher, err := password.NewArgon2(password.Config{
		Memory:           pc.Memory,
		Time:             pc.Time,
		Parallelism:      pc.Parallelism,
		SaltLength:       pc.SaltLength,
		KeyLength:        pc.KeyLength,
		MaxPasswordBytes: pc.MaxPasswordBytes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher init failed: %v\n", err)
		os.Exit(1)
	}
	hash, err := hasher.Hash(loadtestPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	return hash
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

type memProvider struct {
	mu      sync.RWMutex
	byID    map[string]authcore.UserRecord
	byIdent map[string]string
}

func newMemProvider() *memProvider {
	return &memProvider{
		byID:    make(map[string]authcore.UserRecord),
		byIdent: make(map[string]string),
	}
}

func (p *memProvider) put(u authcore.UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[u.UserID] = u
	p.byIdent[u.Identifier] = u.UserID
}

func (p *memProvider) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return authcore.UserRecord{}, fmt.Errorf("user not found")
	}
	return p.byID[id], nil
}

func (p *memProvider) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return authcore.UserRecord{}, fmt.Errorf("user not found")
	}
	return u, nil
}

func (p *memProvider) UpdatePasswordHash(_ context.Context, userID, newHash string, changedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.PasswordHash = newHash
	u.PasswordChangedAt = changedAt
	p.byID[userID] = u
	return nil
}
