// Package middleware adapts HTTP semantics to authcache.Engine calls.
//
// [Guard] reads the Authorization bearer token, installs a per-request
// scope plus the caller's IP and endpoint class on the context, runs
// Engine.Authenticate, and maps the error taxonomy onto status codes:
// credential errors to 401, permission denials to 403, budget refusals to
// 429 (with Retry-After), availability failures to 503.
//
// # Architecture boundaries
//
// This package translates HTTP into Engine calls and back. It does not
// parse tokens, touch Redis, or make authorization decisions of its own.
package middleware
