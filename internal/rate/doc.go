// Package rate provides the sliding-window request limiters consulted before
// the expensive token-validation path.
//
// # Window semantics
//
// Two adjacent fixed buckets per client with weighted interpolation of the
// previous bucket, so the effective window slides continuously: a client
// cannot double its rate by timing bursts across a reset boundary.
//
// Budgets are keyed per endpoint class (login, refresh, general API) and
// independently per client; one client's exhaustion never affects another's
// budget.
//
// # Backends
//
//   - [Limiter] is in-memory and performs no I/O; it is the default.
//   - [DistributedLimiter] shares a budget across instances through Redis
//     counters and is intended for the login class only.
//
// # What this package must NOT do
//
//   - Implement endpoint-specific policy (budgets come from configuration).
//   - Be imported outside the orientor-authcache module.
package rate
