package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/philbeliveau/orientor-authcache/internal/cache"
	"github.com/philbeliveau/orientor-authcache/internal/keys"
)

// Config holds the session cache tuning parameters.
type Config struct {
	// TTL is how long a record is fresh without a version check.
	// Default 15m.
	TTL time.Duration
	// StaleCeiling is the absolute limit past which a record is never
	// served, regardless of store availability. Default 1h.
	StaleCeiling time.Duration
	// MaxEntries bounds the cache. Default 100000.
	MaxEntries int
	// SweepInterval drives the expiry sweep. Default 60s.
	SweepInterval time.Duration
	// InvalidationChannel is the Redis pub/sub channel for cross-instance
	// invalidation fanout. Default "authcache:session:invalidate".
	InvalidationChannel string
}

func (cfg Config) withDefaults() Config {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.StaleCeiling <= cfg.TTL {
		cfg.StaleCeiling = 4 * cfg.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.InvalidationChannel == "" {
		cfg.InvalidationChannel = "authcache:session:invalidate"
	}
	return cfg
}

// IntegrityEventFunc is called when a cached ciphertext fails its tamper
// check. Wired to the engine's security audit trail.
type IntegrityEventFunc func(subjectID string, err error)

// Cache is the materialized user-session cache with change-aware database
// sync. Construct with [NewCache]; stop with [Cache.Close].
type Cache struct {
	cfg    Config
	cipher *keys.Cipher
	fp     *keys.Fingerprinter
	syncer *Syncer
	log    logr.Logger

	store *cache.Cache[[]byte]
	group singleflight.Group

	// gen advances on every invalidation; an in-flight reconcile that
	// started before an invalidation must not write its result back.
	gen atomic.Uint64

	onIntegrityFailure IntegrityEventFunc

	// preSeal runs between the generation check and the cache write.
	// Test seam; never set outside tests.
	preSeal func()

	fanout *fanout
}

// NewCache creates a session cache. onIntegrity may be nil.
func NewCache(
	cfg Config,
	cipher *keys.Cipher,
	fp *keys.Fingerprinter,
	syncer *Syncer,
	onIntegrity IntegrityEventFunc,
	log logr.Logger,
) (*Cache, error) {
	if cipher == nil {
		return nil, errors.New("session: cipher required")
	}
	if fp == nil {
		return nil, errors.New("session: fingerprinter required")
	}
	if syncer == nil {
		return nil, errors.New("session: syncer required")
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	cfg = cfg.withDefaults()

	return &Cache{
		cfg:                cfg,
		cipher:             cipher,
		fp:                 fp,
		syncer:             syncer,
		log:                log.WithName("session"),
		store:              cache.New[[]byte](cfg.MaxEntries, cfg.SweepInterval),
		onIntegrityFailure: onIntegrity,
	}, nil
}

// Get returns the current session record for subjectID, reconciling with
// the user store when the cached copy is missing or past its freshness TTL.
func (c *Cache) Get(ctx context.Context, subjectID string) (*Record, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrUserNotFound)
	}

	key := c.key(subjectID)

	if rec, ok := c.lookup(subjectID, key); ok {
		if time.Since(rec.CachedAt) < c.cfg.TTL {
			return rec, nil
		}
		// Stale but within the ceiling: reconcile before serving.
		return c.reconcile(ctx, subjectID, key, rec)
	}

	return c.reconcile(ctx, subjectID, key, nil)
}

// Invalidate removes the subject's record, bypassing the TTL entirely, and
// fans the invalidation out to other instances when Redis is configured.
// Any write path that changes a user's roles or profile must call this.
func (c *Cache) Invalidate(ctx context.Context, subjectID string) error {
	c.gen.Add(1)
	c.store.Delete(c.key(subjectID))

	if c.fanout != nil {
		return c.fanout.publish(ctx, subjectID)
	}
	return nil
}

// Stats returns the backing cache counters.
func (c *Cache) Stats() cache.Stats {
	return c.store.Stats()
}

// SyncStats returns the reconciliation counters.
func (c *Cache) SyncStats() SyncStats {
	return c.syncer.Stats()
}

// Close stops the expiry sweep and the invalidation listener.
func (c *Cache) Close() {
	if c.fanout != nil {
		c.fanout.close()
	}
	c.store.Close()
}

func (c *Cache) key(subjectID string) string {
	return c.fp.Fingerprint(keys.ContextSession, subjectID, "")
}

// lookup decrypts and decodes the cached blob. Tampered entries are dropped
// and reported; the caller proceeds as on a miss.
func (c *Cache) lookup(subjectID, key string) (*Record, bool) {
	blob, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}

	plaintext, err := c.cipher.Decrypt(blob, keys.ContextSession)
	if err != nil {
		c.integrityFailure(subjectID, key, err)
		return nil, false
	}

	rec, err := decodeRecord(plaintext)
	if err != nil {
		c.integrityFailure(subjectID, key, err)
		return nil, false
	}
	return rec, true
}

func (c *Cache) integrityFailure(subjectID, key string, err error) {
	c.store.Delete(key)
	c.log.Error(err, "cached session failed integrity check", "subject", subjectID)
	if c.onIntegrityFailure != nil {
		c.onIntegrityFailure(subjectID, err)
	}
}

// reconcile coalesces concurrent refreshes of one subject onto a single
// store round-trip.
func (c *Cache) reconcile(ctx context.Context, subjectID, key string, prior *Record) (*Record, error) {
	gen := c.gen.Load()
	ch := c.group.DoChan(key, func() (any, error) {
		rec, _, err := c.syncer.Reconcile(context.WithoutCancel(ctx), subjectID, prior)
		if err != nil {
			return nil, err
		}
		c.writeBack(subjectID, key, rec, gen)
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.degrade(subjectID, prior, res.Err)
		}
		return res.Val.(*Record).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// degrade applies the availability policy: serve the last known-good record
// only while it is under the absolute stale ceiling, and only for store
// availability failures, never for a missing user.
func (c *Cache) degrade(subjectID string, prior *Record, err error) (*Record, error) {
	if errors.Is(err, ErrUserNotFound) {
		c.store.Delete(c.key(subjectID))
		return nil, err
	}

	if prior != nil && time.Since(prior.CachedAt) < c.cfg.StaleCeiling {
		c.log.V(1).Info("serving last known-good session during store outage",
			"subject", subjectID, "age", time.Since(prior.CachedAt).String())
		return prior.Clone(), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
}

// writeBack stores a reconciled record unless an invalidation arrived after
// gen was captured. The re-check after the write closes the window where an
// invalidation lands between the first check and the insert: its delete may
// have run before our insert, so the entry must go, and the invalidator's
// own delete covers the opposite ordering.
func (c *Cache) writeBack(subjectID, key string, rec *Record, gen uint64) {
	if c.gen.Load() != gen {
		// The result may predate the invalidation; never write it back.
		return
	}
	if c.preSeal != nil {
		c.preSeal()
	}
	if err := c.seal(key, rec); err != nil {
		// Best-effort store; the record itself is still good.
		c.log.V(1).Info("session cache store failed", "subject", subjectID, "error", err)
		return
	}
	if c.gen.Load() != gen {
		c.store.Delete(key)
	}
}

// seal encrypts and stores rec under the absolute ceiling; freshness within
// the ceiling is judged against the record's own CachedAt.
func (c *Cache) seal(key string, rec *Record) error {
	plaintext, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	blob, err := c.cipher.Encrypt(plaintext, keys.ContextSession)
	if err != nil {
		return err
	}
	c.store.Set(key, blob, c.cfg.StaleCeiling)
	return nil
}
