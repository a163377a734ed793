// Package authcache is a multi-tier authentication cache and
// session-synchronization engine for backends that validate bearer tokens on
// every request.
//
// The hot path answers from memory: verification keys come from a
// self-refreshing JWKS cache, token verdicts from a fingerprint-keyed
// validation cache, and user sessions from an encrypted cache kept
// consistent with the user store by change-aware sync (a cheap
// version-marker check decides whether a full profile reload is needed).
// A per-request scope memoizes the outcome so one request never validates
// the same token twice.
//
// Construct an [Engine] through the [Builder]:
//
//	engine, err := authcache.New().
//		WithConfig(cfg).
//		WithUserStore(store).
//		WithRedis(redisClient).
//		Build()
//
// Every blocking operation takes a context. The engine fails closed on
// anything security-relevant (unknown keys past grace, unreachable store
// past the stale ceiling, tampered cache entries) and degrades only on pure
// availability faults.
package authcache
