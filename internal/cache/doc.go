// Package cache provides the internal sharded TTL cache that every caching
// tier in the engine is built on.
//
// # Sharding
//
// Keys are distributed over a fixed power-of-two number of shards by FNV-1a
// hash. A write to one key only holds its shard's lock, so unrelated subjects
// never serialize on a single mutex.
//
// # Expiry
//
// Entries expire lazily on Get and eagerly via a background sweep goroutine.
// When a shard exceeds its capacity share, the entries closest to expiry are
// evicted first.
//
// # What this package must NOT do
//
//   - Perform I/O of any kind. All operations are CPU-bound.
//   - Return an error to callers; unavailability degrades to a miss.
//   - Be imported outside the orientor-authcache module.
package cache
