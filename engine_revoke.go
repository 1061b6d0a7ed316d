package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/refresh"
)

// Logout deactivates the refresh credential carried by the token. The
// current access token stays valid until its TTL elapses; logout removes
// only the ability to mint new pairs.
//
// Idempotent: logging out an already-revoked or unknown credential succeeds.
// A malformed token or wrong secret is still [ErrRefreshInvalid].
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	credentialID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrRefreshInvalid
	}

	// Redeem without rotation proves possession of the secret; anything
	// already gone or revoked is a successful no-op.
	rec, err := e.store.Redeem(ctx, credentialID, internal.HashRefreshSecret(providedSecret), nil)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrNotFound),
			errors.Is(err, refresh.ErrExpired),
			errors.Is(err, refresh.ErrInactive):
			return nil
		case errors.Is(err, refresh.ErrSecretMismatch):
			return ErrRefreshInvalid
		default:
			return err
		}
	}

	if err := e.store.Deactivate(ctx, credentialID); err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, rec.UserID, credentialID, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, rec.UserID, credentialID, nil, nil)
	return nil
}

// LogoutAll deactivates every active refresh credential owned by the user
// and returns how many were revoked. Idempotent.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}

	n, err := e.store.DeactivateAll(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}

// ChangePassword verifies the old password, stores the new hash, and revokes
// every refresh credential. PasswordChangedAt moves forward, which also
// invalidates all outstanding access tokens on their next Authenticate.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return ErrEngineNotReady
	}
	if userID == "" || oldPassword == "" || newPassword == "" {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return ErrPasswordPolicy
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrUserNotFound, func() map[string]string {
			return map[string]string{"reason": "user_not_found"}
		})
		return ErrUserNotFound
	}
	if !user.Active {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrAccountDeactivated, func() map[string]string {
			return map[string]string{"reason": "account_deactivated"}
		})
		return ErrAccountDeactivated
	}

	oldOK, err := e.passwordHash.Verify(oldPassword, user.PasswordHash)
	if err != nil || !oldOK {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	samePassword, err := e.passwordHash.Verify(newPassword, user.PasswordHash)
	if err == nil && samePassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeReuse, false, userID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{"reason": "hash_policy"}
		})
		return ErrPasswordPolicy
	}

	if err := e.userProvider.UpdatePasswordHash(ctx, userID, newHash, time.Now()); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"reason": "update_hash_failed"}
		})
		return err
	}

	if _, err := e.LogoutAll(ctx, userID); err != nil {
		log.Print("authcore: credential revocation failed after password change")
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrSessionInvalidationFailed, func() map[string]string {
			return map[string]string{"reason": "revocation_failed"}
		})
		return errors.Join(ErrSessionInvalidationFailed, err)
	}

	if e.lockout != nil {
		// Best-effort: a fresh password clears old failure state.
		if err := e.lockout.Reset(ctx, userID); err != nil {
			log.Print("authcore: lockout reset failed after password change")
		}
	}

	oldPassword = ""
	newPassword = ""
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)

	return nil
}

// UnlockAccount clears an active lockout and the failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}
	if e.lockout == nil {
		return nil
	}

	if err := e.lockout.Reset(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, userID, "", nil, nil)
	return nil
}
