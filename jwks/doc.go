// Package jwks caches the identity provider's public signing keys so that
// steady-state token validation never blocks on network I/O.
//
// # Lifecycle
//
// COLD -> FETCHING -> WARM -> (timer) REFRESHING -> WARM ...
//
// The first caller out of COLD performs the fetch; concurrent callers wait on
// that single in-flight fetch rather than issuing duplicate requests, and a
// waiter whose context is cancelled abandons the wait without cancelling the
// fetch for the others. Once WARM, a background refresher replaces the bundle
// before it would be considered stale, via an atomic pointer swap; readers
// never observe a half-updated key set.
//
// # Failure policy
//
// On refresh failure the previous WARM bundle keeps serving for a bounded
// grace period (fail open on keys). Past the grace period lookups fail closed
// with [ErrKeysUnavailable]; the engine must never accept an unverifiable
// token.
package jwks
