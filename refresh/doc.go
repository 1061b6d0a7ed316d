// Package refresh is the refresh-credential store: one record per issued
// refresh credential, with quota eviction, conditional deactivation, and
// atomic redeem-and-rotate.
//
// # Design
//
// The opaque token presented by clients is never persisted. A record holds
// only the SHA-256 hash of the token's secret half; a store compromise does
// not yield usable credentials. A credential is usable exactly while
// active && now < expiry.
//
// Two backends implement the same operation set:
//
//   - [Store] — Redis. Every mutating operation is a single Lua script, which
//     makes redeem/rotate a compare-and-swap and serializes quota enforcement
//     per user. Record keys carry a TTL, so expired records are deleted by
//     Redis itself; [Store.Sweep] additionally prunes the per-user indexes.
//   - [PostgresStore] — pgx. Rotation uses conditional UPDATE ... WHERE active
//     for the same single-winner guarantee; quota eviction runs in one
//     transaction with the per-user rows locked.
//
// # What this package must NOT do
//
//   - Generate or see plaintext secrets (callers pass hashes).
//   - Verify users or issue access tokens; that is the engine's job.
package refresh
