package authcore

import "time"

// SecurityReport is a read-only snapshot of the engine's security posture,
// suitable for startup logging or an admin diagnostics endpoint. It carries
// no key material.
type SecurityReport struct {
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	RefreshRotationEnabled bool
	MaxActivePerUser       int
	LockoutEnabled         bool
	LockoutThreshold       int
	LockoutDuration        time.Duration
	AuditEnabled           bool
	MetricsEnabled         bool
	Argon2                 PasswordConfigReport
}

// PasswordConfigReport contains the active Argon2 parameters.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport summarizes the engine's effective configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm:       e.config.JWT.SigningMethod,
		AccessTTL:              e.config.JWT.AccessTTL,
		RefreshTTL:             e.config.Refresh.TTL,
		RefreshRotationEnabled: e.config.Refresh.Rotation,
		MaxActivePerUser:       e.config.Refresh.MaxActivePerUser,
		LockoutEnabled:         e.config.Lockout.Enabled,
		LockoutThreshold:       e.config.Lockout.Threshold,
		LockoutDuration:        e.config.Lockout.Duration,
		AuditEnabled:           e.config.Audit.Enabled,
		MetricsEnabled:         e.config.Metrics.Enabled,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
	}
}
