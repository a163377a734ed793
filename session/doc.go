// Package session materializes a denormalized view of a user's identity
// (roles, permissions, profile flags) and keeps it consistent with the
// backing user store at a fraction of the cost of naive reloads.
//
// # Storage form
//
// Records are msgpack-encoded and sealed with authenticated encryption
// before entering the cache; the encrypted blob is the only stored form.
// Cache keys are fingerprints of the subject ID, never raw identifiers.
//
// # Change-aware sync
//
// A record is fresh for TTL after caching. Past that, the syncer fetches
// only the lightweight source-version marker from the store; when it matches
// the version embedded in the stale record, the record's freshness is
// re-stamped without a full profile reload. Only a changed or absent version
// triggers the expensive path. A record is never served past its freshness
// TTL without at least one version check, and never past the absolute stale
// ceiling at all.
//
// # Invalidation
//
// Write paths that change a user's roles or profile must call
// [Cache.Invalidate], which bypasses the TTL entirely and, when Redis is
// configured, fans the invalidation out to every engine instance.
package session
