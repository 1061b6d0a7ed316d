// Package jwt is the access-token codec: short-lived signed tokens carrying
// user identity and role claims, scoped by issuer and audience.
//
// # Design
//
// Tokens are stateless. No revocation list exists for access tokens; a
// compromised token stays valid until its TTL elapses, which is why the TTL
// must be short. Verification collapses every failure mode (bad signature,
// wrong issuer or audience, expired) into one error kind — callers must not
// branch trust decisions on the failure reason.
//
// # What this package must NOT do
//
//   - Touch Redis, SQL, or any store.
//   - Import the authcore root package or the refresh package.
package jwt
