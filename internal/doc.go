// Package internal groups helpers that are intentionally private to the
// engine.
//
// # Sub-packages
//
//   - cache — sharded TTL cache underlying the token and session tiers
//   - keys — token fingerprinting and authenticated encryption of cached payloads
//   - rate — sliding-window request limiters, local and Redis-backed
//
// # What this package must NOT do
//
//   - Export types that appear in the public API.
//   - Be imported by any package outside this module.
package internal
