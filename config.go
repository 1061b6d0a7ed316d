package authcore

import (
	"errors"
	"time"
)

// Config holds every tunable of the engine. Zero value is not usable; start
// from [DefaultConfig] and override.
type Config struct {
	JWT      JWTConfig
	Refresh  RefreshConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig controls access-token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	// Leeway tolerates small clock skew when validating exp/iat. Capped at
	// two minutes.
	Leeway time.Duration
}

// RefreshConfig controls refresh-credential lifetime and rotation.
type RefreshConfig struct {
	TTL time.Duration
	// MaxActivePerUser caps concurrent active credentials per user; the
	// oldest is deactivated when a new login exceeds it. 0 disables the cap.
	MaxActivePerUser int
	// Rotation replaces the refresh credential on every redeem. With it
	// enabled, a replayed credential is detectable; disable only for
	// clients that cannot persist a new token reliably.
	Rotation    bool
	RedisPrefix string
	// SweepInterval runs background expiry sweeps when > 0.
	SweepInterval time.Duration
}

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// PasswordConfig carries the Argon2id parameters.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	// UpgradeOnLogin transparently rehashes on successful login when the
	// stored hash uses weaker parameters.
	UpgradeOnLogin bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	// Dropped counts are visible via [Engine.AuditDropped].
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the recommended starting configuration. Signing keys
// must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        0,
		},
		Refresh: RefreshConfig{
			TTL:              30 * 24 * time.Hour,
			MaxActivePerUser: 5,
			Rotation:         true,
			RedisPrefix:      "ac",
			SweepInterval:    0,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}
	if c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be <= 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}
	if c.Refresh.MaxActivePerUser < 0 {
		return errors.New("Refresh MaxActivePerUser must be >= 0")
	}
	if c.Refresh.SweepInterval < 0 {
		return errors.New("Refresh SweepInterval must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0 when lockout is enabled")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0 when lockout is enabled")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
