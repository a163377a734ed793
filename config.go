package authcache

import (
	"errors"
	"fmt"
	"time"
)

// Config carries every tunable of the engine, grouped per subsystem.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable. The zero value of any field falls back to the
// documented default at Build time.
type Config struct {
	JWKS       JWKSConfig
	Token      TokenConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Encryption EncryptionConfig
	Cache      CacheConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWKS CONFIG
====================================
*/

// JWKSConfig controls the verification-key cache.
type JWKSConfig struct {
	// URL is the provider's JWKS endpoint. Required unless a static
	// keyset is supplied through the Builder.
	URL string
	// TTL is how long a fetched key bundle counts as current. Default 1h.
	TTL time.Duration
	// RefreshFraction positions the background refresh inside the TTL.
	// Default 0.8.
	RefreshFraction float64
	// Grace is how long past TTL a stale bundle is still served while the
	// endpoint is unreachable. Past it the engine fails closed.
	// Default 15m.
	Grace time.Duration
	// MinForcedRefreshInterval throttles unknown-kid forced refreshes.
	// Default 1m.
	MinForcedRefreshInterval time.Duration
	// FetchTimeout bounds one fetch attempt. Default 10s.
	FetchTimeout time.Duration
	// MaxFetchTries bounds the backoff retry loop of one fetch. Default 3.
	MaxFetchTries uint
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls token validation and the verdict cache.
type TokenConfig struct {
	// Issuer is the required iss claim; empty disables the check.
	Issuer string
	// Audience is the required aud claim; empty disables the check.
	Audience string
	// Leeway tolerates clock skew on time-based claims. Default 30s.
	Leeway time.Duration
	// CacheTTL caps how long a positive verdict is reused. The effective
	// per-token TTL is min(CacheTTL, exp-now). Default 2m.
	CacheTTL time.Duration
	// NegativeTTL caps how long a malformed-token verdict is reused.
	// Default 30s.
	NegativeTTL time.Duration
	// MaxCacheEntries bounds the verdict cache. Default 50000.
	MaxCacheEntries int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the user-session cache and its database sync.
type SessionConfig struct {
	// TTL is how long a session record is fresh without a version check.
	// Default 15m.
	TTL time.Duration
	// StaleCeiling is the absolute limit past which a record is never
	// served, store outage or not. Default 1h.
	StaleCeiling time.Duration
	// MaxEntries bounds the session cache. Default 100000.
	MaxEntries int
	// InvalidationChannel is the Redis pub/sub channel for cross-instance
	// invalidation. Default "authcache:session:invalidate".
	InvalidationChannel string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// ClassBudget is the sliding-window budget of one endpoint class.
type ClassBudget struct {
	Window time.Duration
	Budget int
}

// RateLimitConfig controls per-client request budgets. Refusals are
// counted against the class attached to the request context.
type RateLimitConfig struct {
	// Disabled turns rate limiting off. Limiting is on by default.
	Disabled bool

	// Login covers login and token-issuance endpoints. Default 10/min.
	Login ClassBudget
	// Refresh covers token refresh endpoints. Default 30/min.
	Refresh ClassBudget
	// API covers general authenticated calls. Default 300/min.
	API ClassBudget

	// DistributedLogin moves the login-class budget to Redis so attempts
	// cannot shard across instances. Requires a Redis client. Default off.
	DistributedLogin bool
	// RedisPrefix namespaces the distributed limiter's keys.
	// Default "authcache:rate".
	RedisPrefix string
}

/*
====================================
ENCRYPTION CONFIG
====================================
*/

// EncryptionConfig controls the sealing of cached session records.
type EncryptionConfig struct {
	// MasterKey is the 32-byte AES-256 key. When empty a random
	// per-process key is generated, which makes the cache process-local:
	// entries from a previous process cannot be read, which is the safe
	// default for an in-memory cache anyway.
	MasterKey []byte
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig holds knobs shared by every in-memory cache tier.
type CacheConfig struct {
	// SweepInterval drives the background expiry sweeps. Default 60s.
	SweepInterval time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the security-event dispatcher.
type AuditConfig struct {
	// Enabled turns audit emission on.
	Enabled bool
	// BufferSize is the dispatcher's channel capacity. Default 256.
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is
	// full. Dropped events are counted.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the engine's counter table.
type MetricsConfig struct {
	// Enabled turns counter collection on.
	Enabled bool
	// EnableLatencyHistograms additionally buckets Authenticate latency.
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULTS
====================================
*/

func defaultConfig() Config {
	return Config{
		JWKS: JWKSConfig{
			TTL:                      time.Hour,
			RefreshFraction:          0.8,
			Grace:                    15 * time.Minute,
			MinForcedRefreshInterval: time.Minute,
			FetchTimeout:             10 * time.Second,
			MaxFetchTries:            3,
		},
		Token: TokenConfig{
			Leeway:          30 * time.Second,
			CacheTTL:        2 * time.Minute,
			NegativeTTL:     30 * time.Second,
			MaxCacheEntries: 50000,
		},
		Session: SessionConfig{
			TTL:                 15 * time.Minute,
			StaleCeiling:        time.Hour,
			MaxEntries:          100000,
			InvalidationChannel: "authcache:session:invalidate",
		},
		RateLimit: RateLimitConfig{
			Login:       ClassBudget{Window: time.Minute, Budget: 10},
			Refresh:     ClassBudget{Window: time.Minute, Budget: 30},
			API:         ClassBudget{Window: time.Minute, Budget: 300},
			RedisPrefix: "authcache:rate",
		},
		Cache: CacheConfig{
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// withDefaults fills every zero field from defaultConfig so a caller-built
// Config only needs to name what it changes.
func (c Config) withDefaults() Config {
	d := defaultConfig()

	if c.JWKS.TTL <= 0 {
		c.JWKS.TTL = d.JWKS.TTL
	}
	if c.JWKS.RefreshFraction == 0 {
		c.JWKS.RefreshFraction = d.JWKS.RefreshFraction
	}
	if c.JWKS.Grace == 0 {
		c.JWKS.Grace = d.JWKS.Grace
	}
	if c.JWKS.MinForcedRefreshInterval <= 0 {
		c.JWKS.MinForcedRefreshInterval = d.JWKS.MinForcedRefreshInterval
	}
	if c.JWKS.FetchTimeout <= 0 {
		c.JWKS.FetchTimeout = d.JWKS.FetchTimeout
	}
	if c.JWKS.MaxFetchTries == 0 {
		c.JWKS.MaxFetchTries = d.JWKS.MaxFetchTries
	}

	if c.Token.Leeway <= 0 {
		c.Token.Leeway = d.Token.Leeway
	}
	if c.Token.CacheTTL <= 0 {
		c.Token.CacheTTL = d.Token.CacheTTL
	}
	if c.Token.NegativeTTL <= 0 {
		c.Token.NegativeTTL = d.Token.NegativeTTL
	}
	if c.Token.MaxCacheEntries <= 0 {
		c.Token.MaxCacheEntries = d.Token.MaxCacheEntries
	}

	if c.Session.TTL <= 0 {
		c.Session.TTL = d.Session.TTL
	}
	if c.Session.StaleCeiling <= 0 {
		c.Session.StaleCeiling = d.Session.StaleCeiling
	}
	if c.Session.MaxEntries <= 0 {
		c.Session.MaxEntries = d.Session.MaxEntries
	}
	if c.Session.InvalidationChannel == "" {
		c.Session.InvalidationChannel = d.Session.InvalidationChannel
	}

	if c.RateLimit.Login == (ClassBudget{}) {
		c.RateLimit.Login = d.RateLimit.Login
	}
	if c.RateLimit.Refresh == (ClassBudget{}) {
		c.RateLimit.Refresh = d.RateLimit.Refresh
	}
	if c.RateLimit.API == (ClassBudget{}) {
		c.RateLimit.API = d.RateLimit.API
	}
	if c.RateLimit.RedisPrefix == "" {
		c.RateLimit.RedisPrefix = d.RateLimit.RedisPrefix
	}

	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = d.Cache.SweepInterval
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}

	return c
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Encryption.MasterKey = cloneBytes(cfg.Encryption.MasterKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration inconsistency, if any. Build
// calls it after applying defaults.
func (c *Config) Validate() error {
	if c.JWKS.RefreshFraction <= 0 || c.JWKS.RefreshFraction >= 1 {
		return fmt.Errorf("JWKS.RefreshFraction must be in (0, 1), got %v", c.JWKS.RefreshFraction)
	}
	if c.JWKS.Grace < 0 {
		return errors.New("JWKS.Grace cannot be negative")
	}

	if n := len(c.Encryption.MasterKey); n != 0 && n != 32 {
		return fmt.Errorf("Encryption.MasterKey must be 32 bytes, got %d", n)
	}

	if c.Session.StaleCeiling < c.Session.TTL {
		return errors.New("Session.StaleCeiling cannot be shorter than Session.TTL")
	}
	if c.Token.CacheTTL > c.Session.TTL {
		return errors.New("Token.CacheTTL cannot exceed Session.TTL")
	}

	if !c.RateLimit.Disabled {
		for _, cb := range []struct {
			name   string
			budget ClassBudget
		}{
			{"Login", c.RateLimit.Login},
			{"Refresh", c.RateLimit.Refresh},
			{"API", c.RateLimit.API},
		} {
			if cb.budget.Budget <= 0 {
				return fmt.Errorf("RateLimit.%s.Budget must be positive", cb.name)
			}
			if cb.budget.Window <= 0 {
				return fmt.Errorf("RateLimit.%s.Window must be positive", cb.name)
			}
		}
	}

	return nil
}
