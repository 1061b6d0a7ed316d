package authcore

import (
	"context"
	"log"
	"time"
)

// Authenticate verifies an access token and re-checks account state.
//
// The checks run in a fixed order and the first failure wins: token
// verification, user existence, account active, lockout, password age.
// Signature verification collapses all token-shape failures into
// [ErrTokenInvalid]; the later checks exist because a signed token outlives
// account-state changes.
func (e *Engine) Authenticate(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrTokenInvalid
	}

	user, err := e.userProvider.GetUserByID(ctx, claims.UID)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrUserNotFound
	}

	if !user.Active {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrAccountDeactivated
	}

	if e.lockout != nil {
		locked, _, err := e.lockout.IsLocked(ctx, user.UserID)
		if err != nil {
			log.Print("authcore: lockout check failed during authenticate")
		} else if locked {
			e.metricInc(MetricAuthenticateFailure)
			return nil, ErrAccountLocked
		}
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if changedPasswordAfter(user.PasswordChangedAt, issuedAt) {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrPasswordChanged
	}

	e.metricInc(MetricAuthenticateSuccess)

	return &AuthResult{
		UserID:        user.UserID,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		IssuedAt:      issuedAt,
	}, nil
}

// changedPasswordAfter reports whether the password changed after the token
// was issued. Both sides truncate to whole seconds because iat carries only
// second precision; a change in the same second does not invalidate.
func changedPasswordAfter(passwordChangedAt, issuedAt time.Time) bool {
	if passwordChangedAt.IsZero() || issuedAt.IsZero() {
		return false
	}
	return issuedAt.Truncate(time.Second).Before(passwordChangedAt.Truncate(time.Second))
}
