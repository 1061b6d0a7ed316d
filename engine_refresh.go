package authcore

import (
	"context"
	"errors"
	"log"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/refresh"
)

// Refresh redeems a refresh credential for a new token pair. With rotation
// enabled (the default) the presented credential is atomically deactivated
// and a replacement is minted inheriting its device metadata; of two
// concurrent redeems exactly one wins and the loser gets [ErrRefreshInvalid].
//
// The new access token always carries fresh claims from the user record, so
// role or email-verification changes propagate on the next refresh.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.store == nil || e.jwtManager == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	credentialID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrRefreshInvalid
	}

	var replacement *refresh.Replacement
	var nextSecret [32]byte
	if e.config.Refresh.Rotation {
		nextSecret, err = internal.NewRefreshSecret()
		if err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, err
		}
		replacement = &refresh.Replacement{
			ID:         internal.NewCredentialID(),
			SecretHash: internal.HashRefreshSecret(nextSecret),
		}
	}

	rec, err := e.store.Redeem(ctx, credentialID, internal.HashRefreshSecret(providedSecret), replacement)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrInactive):
			// Under rotation an inactive credential is the signature of a
			// replayed token: someone is holding a credential that was
			// already rotated out.
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", credentialID, ErrRefreshInvalid, nil)
			return nil, ErrRefreshInvalid
		case errors.Is(err, refresh.ErrNotFound),
			errors.Is(err, refresh.ErrExpired),
			errors.Is(err, refresh.ErrSecretMismatch):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", credentialID, ErrRefreshInvalid, func() map[string]string {
				return map[string]string{"reason": "redeem_rejected"}
			})
			return nil, ErrRefreshInvalid
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", credentialID, ErrBackendUnavailable, func() map[string]string {
				return map[string]string{"reason": "store_failure"}
			})
			return nil, err
		}
	}

	activeID := credentialID
	if replacement != nil {
		activeID = replacement.ID
	}

	user, err := e.userProvider.GetUserByID(ctx, rec.UserID)
	if err != nil {
		// The credential redeemed but its owner is gone. Revoke whatever is
		// now active so the orphan cannot redeem again.
		if dErr := e.store.Deactivate(ctx, activeID); dErr != nil {
			log.Print("authcore: orphan credential deactivation failed")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, credentialID, ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "user_not_found"}
		})
		return nil, ErrRefreshInvalid
	}

	if !user.Active {
		if dErr := e.store.Deactivate(ctx, activeID); dErr != nil {
			log.Print("authcore: credential deactivation for inactive account failed")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, user.UserID, credentialID, ErrAccountDeactivated, func() map[string]string {
			return map[string]string{"reason": "account_deactivated"}
		})
		return nil, ErrAccountDeactivated
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, user.Role, user.EmailVerified)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	outToken := refreshToken
	if replacement != nil {
		outToken, err = internal.EncodeRefreshToken(replacement.ID, nextSecret)
		if err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, err
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, activeID, nil, nil)

	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    outToken,
		AccessExpiresIn: e.jwtManager.AccessTTL(),
	}, nil
}
