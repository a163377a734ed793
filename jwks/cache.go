package jwks

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrKeysUnavailable is returned when no usable key bundle exists: the
	// cold fetch failed, or the last good bundle aged past the grace period.
	ErrKeysUnavailable = errors.New("signing keys unavailable")
	// ErrKeyNotFound is returned when the bundle is current but does not
	// contain the requested key ID.
	ErrKeyNotFound = errors.New("signing key not found")
)

// Config holds the JWKS cache tuning parameters.
type Config struct {
	// URL is the provider's public key-set endpoint.
	URL string
	// TTL is how long a fetched bundle is considered fresh. Default 1h.
	TTL time.Duration
	// RefreshFraction is the fraction of TTL after which the background
	// refresher replaces the bundle. Default 0.8.
	RefreshFraction float64
	// Grace bounds how long a stale bundle keeps serving after refresh
	// failures before lookups fail closed. Default 15m.
	Grace time.Duration
	// MinForcedRefreshInterval throttles refreshes forced by unknown key
	// IDs (provider rotation). Default 1m.
	MinForcedRefreshInterval time.Duration
	// FetchTimeout bounds a single fetch attempt. Default 10s.
	FetchTimeout time.Duration
	// MaxFetchTries bounds retry attempts within one fetch. Default 3.
	MaxFetchTries uint
	// HTTPClient overrides the HTTP client used for fetches.
	HTTPClient *http.Client
}

func (cfg Config) withDefaults() Config {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.RefreshFraction <= 0 || cfg.RefreshFraction >= 1 {
		cfg.RefreshFraction = 0.8
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 15 * time.Minute
	}
	if cfg.MinForcedRefreshInterval <= 0 {
		cfg.MinForcedRefreshInterval = time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxFetchTries == 0 {
		cfg.MaxFetchTries = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return cfg
}

// Bundle is one immutable snapshot of the provider's key set. Bundles are
// replaced wholesale by pointer swap, never mutated in place.
type Bundle struct {
	set       jwk.Set
	fetchedAt time.Time
}

// FetchedAt returns when this bundle was retrieved.
func (b *Bundle) FetchedAt() time.Time {
	return b.fetchedAt
}

// Stats is a snapshot of refresh activity counters.
type Stats struct {
	Fetches       uint64
	FetchFailures uint64
	ServedStale   uint64
}

// Cache serves the current signing-key bundle with near-zero request-time
// latency. Construct with [New]; stop with [Cache.Close].
type Cache struct {
	cfg Config
	log logr.Logger

	bundle     atomic.Pointer[Bundle]
	group      singleflight.Group
	lastForced atomic.Int64

	fetches       atomic.Uint64
	fetchFailures atomic.Uint64
	servedStale   atomic.Uint64

	refreshOnce sync.Once
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// New creates a JWKS cache for cfg.URL. No fetch happens until the first
// lookup; the background refresher starts after the first successful fetch.
func New(cfg Config, log logr.Logger) (*Cache, error) {
	if cfg.URL == "" {
		return nil, errors.New("jwks: url required")
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Cache{
		cfg:  cfg.withDefaults(),
		log:  log.WithName("jwks"),
		done: make(chan struct{}),
	}, nil
}

// KeyByID returns the public key for kid, fetching the key set on first use.
// Unknown kids on a current bundle trigger at most one forced refresh per
// MinForcedRefreshInterval to pick up provider key rotation.
func (c *Cache) KeyByID(ctx context.Context, kid string) (crypto.PublicKey, error) {
	b := c.bundle.Load()
	if b == nil {
		var err error
		b, err = c.warm(ctx)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	age := now.Sub(b.fetchedAt)

	if age >= c.cfg.TTL {
		if age >= c.cfg.TTL+c.cfg.Grace {
			// Too stale to trust; one last synchronous attempt, then fail closed.
			fresh, err := c.warm(ctx)
			if err != nil {
				return nil, ErrKeysUnavailable
			}
			b = fresh
		} else {
			c.servedStale.Add(1)
		}
	}

	if key, err := exportKey(b.set, kid); err == nil {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys since the last fetch.
	if c.tryForceRefresh(ctx) {
		if fresh := c.bundle.Load(); fresh != nil && fresh != b {
			return exportKey(fresh.set, kid)
		}
	}

	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Current returns the bundle being served, or nil when COLD.
func (c *Cache) Current() *Bundle {
	return c.bundle.Load()
}

// Stats returns the refresh activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Fetches:       c.fetches.Load(),
		FetchFailures: c.fetchFailures.Load(),
		ServedStale:   c.servedStale.Load(),
	}
}

// Close stops the background refresher. Lookups continue to serve the last
// bundle within its TTL and grace period.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// warm coalesces concurrent cold fetches onto one in-flight request. A
// cancelled waiter abandons the wait; the shared fetch keeps running for the
// remaining waiters.
func (c *Cache) warm(ctx context.Context) (*Bundle, error) {
	ch := c.group.DoChan("fetch", func() (any, error) {
		b, err := c.fetch(context.Background())
		if err != nil {
			return nil, err
		}
		c.install(b)
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, res.Err)
		}
		return res.Val.(*Bundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// install publishes a fresh bundle and starts the background refresher on
// the first WARM transition.
func (c *Cache) install(b *Bundle) {
	c.bundle.Store(b)
	c.refreshOnce.Do(func() {
		c.wg.Add(1)
		go c.refreshLoop()
	})
}

func (c *Cache) refreshLoop() {
	defer c.wg.Done()

	for {
		b := c.bundle.Load()

		var wait time.Duration
		if b != nil {
			refreshAt := b.fetchedAt.Add(time.Duration(float64(c.cfg.TTL) * c.cfg.RefreshFraction))
			wait = time.Until(refreshAt)
		}
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		fresh, err := c.fetch(context.Background())
		if err != nil {
			// Keep serving the previous bundle; the grace period bounds how
			// long that is acceptable.
			c.log.V(1).Info("background refresh failed", "error", err)
			retry := time.NewTimer(30 * time.Second)
			select {
			case <-c.done:
				retry.Stop()
				return
			case <-retry.C:
			}
			continue
		}
		c.bundle.Store(fresh)
	}
}

// tryForceRefresh performs a synchronous refresh if none was forced within
// MinForcedRefreshInterval. Reports whether a refresh was attempted.
func (c *Cache) tryForceRefresh(ctx context.Context) bool {
	now := time.Now().UnixNano()
	last := c.lastForced.Load()
	if now-last < int64(c.cfg.MinForcedRefreshInterval) {
		return false
	}
	if !c.lastForced.CompareAndSwap(last, now) {
		return false
	}

	if _, err := c.warm(ctx); err != nil {
		c.log.V(1).Info("forced refresh failed", "error", err)
		return false
	}
	return true
}

func (c *Cache) fetch(ctx context.Context) (*Bundle, error) {
	c.fetches.Add(1)

	set, err := backoff.Retry(ctx, func() (jwk.Set, error) {
		return c.fetchOnce(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxFetchTries),
	)
	if err != nil {
		c.fetchFailures.Add(1)
		return nil, err
	}

	return &Bundle{set: set, fetchedAt: time.Now()}, nil
}

func (c *Cache) fetchOnce(ctx context.Context) (jwk.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("jwks document contains no keys")
	}

	return set, nil
}

func exportKey(set jwk.Set, kid string) (crypto.PublicKey, error) {
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, ErrKeyNotFound
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export key %q: %w", kid, err)
	}
	return raw, nil
}
