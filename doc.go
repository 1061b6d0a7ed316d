// Package authcore is a storage-agnostic authentication token engine. It
// pairs short-lived signed access tokens (JWT, HS256 or Ed25519) with
// long-lived opaque refresh credentials that are stored server side, rotated
// on every use, and individually revocable.
//
// # Model
//
// Access tokens are stateless: verification is a signature check plus
// account-state re-validation, no store lookup for the token itself. Refresh
// credentials are stateful: each is a random id + secret, persisted only as
// SHA-256(secret), capped per user, and consumed atomically on redeem so
// that concurrent refreshes of the same credential produce exactly one
// winner.
//
// The engine owns no user database. Callers implement [UserProvider] against
// their own storage; the engine brings the credential store (Redis via
// [refresh.Store], or Postgres via [refresh.PostgresStore]), failed-login
// lockout, password hashing, audit events, and metrics.
//
// # Quick start
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithUserProvider(users).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	pair, err := engine.Login(ctx, "alice@example.com", password)
//	res, err := engine.Authenticate(ctx, pair.AccessToken)
//	pair, err = engine.Refresh(ctx, pair.RefreshToken)
//	err = engine.Logout(ctx, pair.RefreshToken)
package authcore
