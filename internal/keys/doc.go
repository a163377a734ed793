// Package keys provides the cryptographic primitives that keep cached
// authentication material from leaking secrets: token fingerprinting for
// cache keys and authenticated encryption for cached payloads.
//
// # Fingerprints
//
// A fingerprint is an HMAC-SHA256 digest over a context label, the subject
// identifier, and the raw credential, keyed by a per-process secret salt.
// It is deterministic within a process run, infeasible to reverse, and
// fingerprints from different context labels are never interchangeable.
// Raw credentials must never appear in a cache key or log line; the
// fingerprint is the only permitted form.
//
// # Encryption
//
// AES-256-GCM with a random nonce prepended to the ciphertext and the
// context label bound as additional authenticated data. Any single-byte
// modification of the ciphertext fails decryption loudly.
//
// # What this package must NOT do
//
//   - Perform I/O. Fingerprinting and encryption are CPU-bound.
//   - Be imported outside the orientor-authcache module.
package keys
