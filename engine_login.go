package authcore

import (
	"context"
	"log"
	"time"
)

// Login verifies identifier + password and issues a token pair.
//
// Failure order matters: an active lockout wins over everything, including a
// correct password. Unknown identifier and wrong password both return
// [ErrInvalidCredentials] and both count toward the lockout threshold, so
// response shape does not leak which identifiers exist.
func (e *Engine) Login(ctx context.Context, identifier, passwd string) (*TokenPair, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if identifier == "" || passwd == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "empty_input",
			}
		})
		return nil, ErrInvalidCredentials
	}

	user, lookupErr := e.userProvider.GetUserByIdentifier(ctx, identifier)

	// Lockout is keyed by user ID; an unknown identifier has no lockout
	// state, but its failure is still recorded below under the identifier
	// to keep the attempt cost symmetric.
	lockoutKey := identifier
	if lookupErr == nil {
		lockoutKey = user.UserID
	}

	if e.lockout != nil {
		locked, until, err := e.lockout.IsLocked(ctx, lockoutKey)
		if err != nil {
			log.Print("authcore: lockout check failed")
		} else if locked {
			e.metricInc(MetricLoginLockedOut)
			e.emitAudit(ctx, auditEventLoginLockedOut, false, lockoutKey, "", ErrAccountLocked, func() map[string]string {
				m := map[string]string{"identifier": identifier}
				if !until.IsZero() {
					m["locked_until"] = until.UTC().Format(time.RFC3339)
				}
				return m
			})
			return nil, ErrAccountLocked
		}
	}

	if lookupErr != nil {
		e.recordLoginFailure(ctx, lockoutKey, identifier, "user_not_found")
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrAccountDeactivated, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "account_deactivated",
			}
		})
		return nil, ErrAccountDeactivated
	}

	ok, err := e.passwordHash.Verify(passwd, user.PasswordHash)
	if err != nil || !ok {
		if locked := e.recordLoginFailure(ctx, user.UserID, identifier, "password_mismatch"); locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.passwordHash.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := e.passwordHash.Hash(passwd); err == nil {
				// Keep PasswordChangedAt: a transparent rehash must not
				// invalidate outstanding access tokens. Best-effort.
				if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, upgradedHash, user.PasswordChangedAt); err != nil {
					log.Print("authcore: password hash upgrade update failed")
				}
			} else {
				log.Print("authcore: password hash upgrade generation failed")
			}
		}
	}
	passwd = ""

	if e.lockout != nil {
		if err := e.lockout.Reset(ctx, user.UserID); err != nil {
			log.Print("authcore: lockout reset failed after successful login")
		}
	}

	pair, err := e.IssueTokenPair(ctx, user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "issue_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
		}
	})

	return pair, nil
}

// recordLoginFailure counts a failed attempt and reports whether it tripped
// the lockout.
func (e *Engine) recordLoginFailure(ctx context.Context, lockoutKey, identifier, reason string) bool {
	lockTriggered := false
	if e.lockout != nil {
		var err error
		lockTriggered, err = e.lockout.RecordFailure(ctx, lockoutKey)
		if err != nil {
			log.Print("authcore: lockout failure recording failed")
		}
	}

	if lockTriggered {
		e.metricInc(MetricLoginLockedOut)
		e.emitAudit(ctx, auditEventLoginLockedOut, false, lockoutKey, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     reason,
			}
		})
		return true
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return false
}
