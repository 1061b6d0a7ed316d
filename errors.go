package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned when the identifier or password is
	// wrong. Unknown identifier and wrong password are deliberately not
	// distinguishable through this error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is returned for any access token that fails
	// verification: bad signature, malformed, expired, wrong issuer or
	// audience.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is returned for any refresh credential that cannot be
	// redeemed: malformed, unknown, expired, deactivated, or secret mismatch.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrAccountDeactivated is returned when the account exists but is no
	// longer active.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrAccountLocked is returned while the account is under a failed-login
	// lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrPasswordChanged is returned when an access token was issued before
	// the account's most recent password change.
	ErrPasswordChanged = errors.New("password changed after token issued")
	// ErrUserNotFound is returned when a user lookup by ID finds nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordPolicy is returned when a new password fails policy checks.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrSessionInvalidationFailed wraps a failure to revoke credentials
	// after a password change.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrEngineNotReady is returned when an Engine method is called on an
	// incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBackendUnavailable wraps store or limiter connectivity failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
