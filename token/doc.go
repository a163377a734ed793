// Package token validates bearer tokens against the identity provider's
// signing keys and caches the validation result under a secure fingerprint.
//
// # Caching contract
//
// The raw token never appears as a cache key or inside a cached value; the
// only stored form is the HMAC fingerprint and the decoded claims. A cached
// result's lifetime is min(configured TTL, token expiry): a result is never
// served once the token's own exp has passed, regardless of cache TTL.
//
// Validation failures are terminal and never cached as positive results. A
// short negative cache for malformed tokens blunts the cost of repeated
// garbage submissions.
package token
