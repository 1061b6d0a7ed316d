package refresh

import (
	"errors"
	"time"
)

// DeviceClass is the coarse device category inferred from the User-Agent.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
	DeviceUnknown DeviceClass = "unknown"
)

// DeviceInfo is best-effort session metadata captured at issuance. It is
// informational (session listings, audit records), never a trust input.
type DeviceInfo struct {
	UserAgent string
	IP        string
	Class     DeviceClass
}

// Record is one stored refresh credential.
type Record struct {
	ID         string
	UserID     string
	Device     DeviceInfo
	Active     bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// Usable reports whether the credential can still redeem at the given time.
func (r *Record) Usable(now time.Time) bool {
	return r != nil && r.Active && now.Before(r.ExpiresAt)
}

// Replacement carries the pre-generated identity of the credential minted
// during rotation. The store writes it atomically with the deactivation of
// the presented credential.
type Replacement struct {
	ID         string
	SecretHash [32]byte
}

var (
	// ErrNotFound is returned when no record exists for the credential id.
	ErrNotFound = errors.New("refresh credential not found")
	// ErrExpired is returned when the record exists but its expiry passed.
	ErrExpired = errors.New("refresh credential expired")
	// ErrInactive is returned when the record was already deactivated —
	// under rotation this is the signature of a replayed credential.
	ErrInactive = errors.New("refresh credential inactive")
	// ErrSecretMismatch is returned when the presented secret does not hash
	// to the stored value.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrStoreUnavailable wraps backend connectivity failures.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
)
