// Package internal holds helpers shared by the authcore root package and its
// subpackages but hidden from importers: opaque refresh-token encoding and
// the best-effort device classifier.
//
// # Architecture boundaries
//
// Nothing in this package performs I/O. Randomness comes from crypto/rand
// only; credential secrets leave this package exclusively in hashed form.
package internal
