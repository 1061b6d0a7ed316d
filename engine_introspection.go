package authcore

import "context"

// Sessions lists the user's currently active refresh credentials, oldest
// first. Secrets and secret hashes are never included.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	recs, err := e.store.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionInfo{
			CredentialID: rec.ID,
			Device:       rec.Device,
			CreatedAt:    rec.CreatedAt,
			LastUsedAt:   rec.LastUsedAt,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	return out, nil
}
