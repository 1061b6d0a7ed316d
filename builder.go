package authcore

import (
	"errors"

	"github.com/authcore-io/authcore/internal/limiters"
	"github.com/authcore-io/authcore/jwt"
	"github.com/authcore-io/authcore/password"
	"github.com/authcore-io/authcore/refresh"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Usage:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithUserProvider(provider).
//		Build()
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  CredentialStore

	userProvider UserProvider
	auditSink    AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client used for the credential store and the
// lockout limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore overrides the refresh-credential backend, e.g. with a
// [refresh.PostgresStore]. When unset, a Redis store is built from the
// client passed to [Builder.WithRedis].
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithUserProvider supplies the user database integration. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink supplies the audit destination. Only consulted when
// [AuditConfig.Enabled] is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and assembles the engine. A Builder can
// build at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.store == nil && b.redis == nil {
		return nil, errors.New("redis client or credential store required")
	}
	if cfg.Lockout.Enabled && b.redis == nil {
		return nil, errors.New("lockout requires redis client")
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		userProvider: b.userProvider,
	}

	if b.store != nil {
		engine.store = b.store
	} else {
		engine.store = refresh.NewStore(b.redis, refresh.Config{
			Prefix:           cfg.Refresh.RedisPrefix,
			TTL:              cfg.Refresh.TTL,
			MaxActivePerUser: cfg.Refresh.MaxActivePerUser,
		})
	}

	if cfg.Lockout.Enabled {
		engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
			Enabled:   true,
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Duration,
		})
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.Refresh.SweepInterval > 0 {
		engine.startSweeper(cfg.Refresh.SweepInterval)
	}

	b.built = true

	return engine, nil
}
