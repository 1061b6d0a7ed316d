// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Parameters travel inside the hash, so [Argon2.Verify] works against hashes
// produced under older configurations, and [Argon2.NeedsUpgrade] tells the
// caller when to re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords or hash parameters.
package password
