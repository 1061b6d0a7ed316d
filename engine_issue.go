package authcore

import (
	"context"

	"github.com/authcore-io/authcore/internal"
)

// IssueTokenPair mints an access + refresh pair for an already-authenticated
// user. [Engine.Login] calls it after password verification; callers with
// their own authentication step (OAuth callback, admin impersonation) can
// call it directly.
//
// Issuing counts against the per-user active-credential quota: when the cap
// is exceeded the user's oldest active credential is deactivated.
func (e *Engine) IssueTokenPair(ctx context.Context, user UserRecord) (*TokenPair, error) {
	if e == nil || e.store == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if !user.Active {
		return nil, ErrAccountDeactivated
	}

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	credentialID := internal.NewCredentialID()

	before := 0
	quota := e.config.Refresh.MaxActivePerUser
	if quota > 0 && (e.audit != nil || e.metrics.Enabled()) {
		// Count only when someone is listening; the eviction itself happens
		// atomically inside Create either way.
		if n, err := e.store.ActiveCount(ctx, user.UserID); err == nil {
			before = n
		}
	}

	rec, err := e.store.Create(ctx, user.UserID, credentialID, internal.HashRefreshSecret(secret), deviceInfoFromContext(ctx))
	if err != nil {
		return nil, err
	}

	if quota > 0 && before >= quota {
		e.metricInc(MetricQuotaEviction)
		e.emitAudit(ctx, auditEventQuotaEviction, true, user.UserID, rec.ID, nil, nil)
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, user.Role, user.EmailVerified)
	if err != nil {
		// Do not leave an orphaned credential behind.
		_ = e.store.Deactivate(ctx, credentialID)
		return nil, err
	}

	refreshToken, err := internal.EncodeRefreshToken(credentialID, secret)
	if err != nil {
		_ = e.store.Deactivate(ctx, credentialID)
		return nil, err
	}

	e.metricInc(MetricTokenPairIssued)
	e.emitAudit(ctx, auditEventTokenPairIssued, true, user.UserID, credentialID, nil, nil)

	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refreshToken,
		AccessExpiresIn: e.jwtManager.AccessTTL(),
	}, nil
}
