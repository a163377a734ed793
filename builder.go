package authcache

import (
	"errors"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/philbeliveau/orientor-authcache/internal/keys"
	"github.com/philbeliveau/orientor-authcache/internal/rate"
	"github.com/philbeliveau/orientor-authcache/jwks"
	"github.com/philbeliveau/orientor-authcache/permission"
	"github.com/philbeliveau/orientor-authcache/session"
	"github.com/philbeliveau/orientor-authcache/token"
)

// Builder assembles an [Engine]. A Builder is single-use: Build consumes
// it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userStore session.UserStore
	keyset    token.Keyset
	roles     map[string][]string

	log       logr.Logger
	auditSink AuditSink

	built bool
}

// New starts a Builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Zero fields fall back to their
// defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis attaches a Redis client, enabling cross-instance session
// invalidation and, when configured, the distributed login limiter.
// Optional: without it the engine is instance-local.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore attaches the user store the session cache syncs against.
// Required.
func (b *Builder) WithUserStore(store session.UserStore) *Builder {
	b.userStore = store
	return b
}

// WithKeyset overrides JWKS fetching with a fixed key resolver. Intended
// for tests and for deployments that pin verification keys.
func (b *Builder) WithKeyset(ks token.Keyset) *Builder {
	b.keyset = ks
	return b
}

// WithRoles registers role -> permissions grants for authorization checks.
// Optional: without it only the direct permissions on a session record
// authorize anything.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// WithLogger attaches a logr sink for operational logging. Defaults to
// logr.Discard.
func (b *Builder) WithLogger(log logr.Logger) *Builder {
	b.log = log
	return b
}

// WithAuditSink attaches the destination for security audit events. Only
// consulted when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every tier, and returns the
// engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config).withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	if b.keyset == nil && cfg.JWKS.URL == "" {
		return nil, errors.New("JWKS.URL or a keyset required")
	}
	if cfg.RateLimit.DistributedLogin && b.redis == nil {
		return nil, errors.New("RateLimit.DistributedLogin requires a redis client")
	}

	log := b.log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithName("authcache")

	// -------- KEY MATERIAL --------
	fp, err := keys.NewFingerprinter()
	if err != nil {
		return nil, err
	}
	cipher, err := keys.NewCipher(cloneBytes(cfg.Encryption.MasterKey))
	if err != nil {
		return nil, err
	}

	// -------- VERIFICATION KEYS --------
	keyset := b.keyset
	var jwksCache *jwks.Cache
	if keyset == nil {
		jwksCache, err = jwks.New(jwks.Config{
			URL:                      cfg.JWKS.URL,
			TTL:                      cfg.JWKS.TTL,
			RefreshFraction:          cfg.JWKS.RefreshFraction,
			Grace:                    cfg.JWKS.Grace,
			MinForcedRefreshInterval: cfg.JWKS.MinForcedRefreshInterval,
			FetchTimeout:             cfg.JWKS.FetchTimeout,
			MaxFetchTries:            cfg.JWKS.MaxFetchTries,
		}, log)
		if err != nil {
			return nil, err
		}
		keyset = jwksCache
	}

	// -------- TOKEN VALIDATION --------
	validator, err := token.NewValidator(token.Config{
		Issuer:          cfg.Token.Issuer,
		Audience:        cfg.Token.Audience,
		Leeway:          cfg.Token.Leeway,
		CacheTTL:        cfg.Token.CacheTTL,
		NegativeTTL:     cfg.Token.NegativeTTL,
		MaxCacheEntries: cfg.Token.MaxCacheEntries,
		SweepInterval:   cfg.Cache.SweepInterval,
	}, keyset, fp, log)
	if err != nil {
		return nil, err
	}

	// -------- PERMISSIONS --------
	registry := permission.NewRegistry()
	for role, perms := range b.roles {
		if err := registry.Register(role, perms...); err != nil {
			return nil, err
		}
	}
	registry.Freeze()
	controller, err := permission.NewController(registry)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		controller: controller,
		jwksCache:  jwksCache,
		validator:  validator,
		metrics:    NewMetrics(cfg.Metrics),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
	}

	// -------- SESSIONS --------
	syncer, err := session.NewSyncer(b.userStore, log)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewCache(session.Config{
		TTL:                 cfg.Session.TTL,
		StaleCeiling:        cfg.Session.StaleCeiling,
		MaxEntries:          cfg.Session.MaxEntries,
		SweepInterval:       cfg.Cache.SweepInterval,
		InvalidationChannel: cfg.Session.InvalidationChannel,
	}, cipher, fp, syncer, engine.onTamper, log)
	if err != nil {
		return nil, err
	}
	if b.redis != nil {
		if err := sessions.EnableFanout(b.redis); err != nil {
			sessions.Close()
			return nil, err
		}
	}
	engine.sessions = sessions

	// -------- RATE LIMITING --------
	if !cfg.RateLimit.Disabled {
		var classes [rate.ClassCount]rate.ClassConfig
		classes[rate.ClassLogin] = rate.ClassConfig{Window: cfg.RateLimit.Login.Window, Budget: cfg.RateLimit.Login.Budget}
		classes[rate.ClassRefresh] = rate.ClassConfig{Window: cfg.RateLimit.Refresh.Window, Budget: cfg.RateLimit.Refresh.Budget}
		classes[rate.ClassAPI] = rate.ClassConfig{Window: cfg.RateLimit.API.Window, Budget: cfg.RateLimit.API.Budget}
		engine.limiter = rate.NewLimiter(rate.Config{
			Classes:       classes,
			SweepInterval: cfg.Cache.SweepInterval,
		})

		if cfg.RateLimit.DistributedLogin {
			engine.distLogin = rate.NewDistributedLimiter(b.redis, cfg.RateLimit.RedisPrefix,
				rate.ClassConfig{Window: cfg.RateLimit.Login.Window, Budget: cfg.RateLimit.Login.Budget})
		}
	}

	b.built = true

	return engine, nil
}
