package token

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"

	"github.com/philbeliveau/orientor-authcache/internal/cache"
	"github.com/philbeliveau/orientor-authcache/internal/keys"
	"github.com/philbeliveau/orientor-authcache/jwks"
)

// Keyset resolves a signing key ID to a public key. Satisfied by
// [jwks.Cache]; tests may supply a static set.
type Keyset interface {
	KeyByID(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Result is the immutable outcome of validating one signed token. Lifetime
// is bounded by the token's own expiry or the cache TTL, whichever is sooner.
type Result struct {
	SubjectID   string
	Roles       []string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (r *Result) clone() *Result {
	out := *r
	out.Roles = slices.Clone(r.Roles)
	out.Permissions = slices.Clone(r.Permissions)
	return &out
}

// Config holds token validation tuning parameters.
type Config struct {
	// Issuer is the required iss claim; empty disables the check.
	Issuer string
	// Audience is the required aud claim; empty disables the check.
	Audience string
	// Leeway tolerates clock skew on time-based claims. Default 30s.
	Leeway time.Duration
	// CacheTTL caps how long a positive result is cached. Default 2m.
	CacheTTL time.Duration
	// NegativeTTL caps how long a malformed-token verdict is cached.
	// Default 30s.
	NegativeTTL time.Duration
	// MaxCacheEntries bounds the result cache. Default 50000.
	MaxCacheEntries int
	// SweepInterval drives the expiry sweep. Default 60s.
	SweepInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = 50000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg
}

type accessClaims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens and caches verdicts. Safe for concurrent
// use after construction.
type Validator struct {
	cfg    Config
	keyset Keyset
	fp     *keys.Fingerprinter
	parser *jwt.Parser
	log    logr.Logger

	results  *cache.Cache[*Result]
	negative *cache.Cache[struct{}]
}

// NewValidator creates a [Validator] that resolves signing keys through
// keyset and derives cache keys through fp.
func NewValidator(cfg Config, keyset Keyset, fp *keys.Fingerprinter, log logr.Logger) (*Validator, error) {
	if keyset == nil {
		return nil, errors.New("token: keyset required")
	}
	if fp == nil {
		return nil, errors.New("token: fingerprinter required")
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	cfg = cfg.withDefaults()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Validator{
		cfg:      cfg,
		keyset:   keyset,
		fp:       fp,
		parser:   jwt.NewParser(opts...),
		log:      log.WithName("token"),
		results:  cache.New[*Result](cfg.MaxCacheEntries, cfg.SweepInterval),
		negative: cache.New[struct{}](cfg.MaxCacheEntries, cfg.SweepInterval),
	}, nil
}

// Validate verifies rawToken and returns its [Result]. Cached verdicts are
// used when live; a cached result is never returned past the token's exp.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Result, error) {
	if rawToken == "" {
		return nil, ErrMalformedToken
	}

	fingerprint := v.fp.Fingerprint(keys.ContextToken, "", rawToken)

	if _, bad := v.negative.Get(fingerprint); bad {
		return nil, ErrMalformedToken
	}

	if cached, ok := v.results.Get(fingerprint); ok {
		// Cache TTL may outlive the token; the token's own exp wins.
		if time.Now().Before(cached.ExpiresAt) {
			return cached.clone(), nil
		}
		v.results.Delete(fingerprint)
		return nil, ErrExpiredToken
	}

	result, err := v.verify(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrMalformedToken) {
			v.negative.Set(fingerprint, struct{}{}, v.cfg.NegativeTTL)
		}
		return nil, err
	}

	ttl := min(v.cfg.CacheTTL, time.Until(result.ExpiresAt))
	if ttl > 0 {
		v.results.Set(fingerprint, result, ttl)
	}
	return result.clone(), nil
}

// Stats returns the positive result cache counters.
func (v *Validator) Stats() cache.Stats {
	return v.results.Stats()
}

// Close stops the cache sweeps.
func (v *Validator) Close() {
	v.results.Close()
	v.negative.Close()
}

func (v *Validator) verify(ctx context.Context, rawToken string) (*Result, error) {
	var claims accessClaims

	tok, err := v.parser.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrMalformedToken)
		}
		key, err := v.keyset.KeyByID(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	if !tok.Valid {
		return nil, ErrBadSignature
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}

	result := &Result{
		SubjectID:   subject,
		Roles:       slices.Clone(claims.Roles),
		Permissions: permissionSet(claims),
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result, nil
}

// permissionSet merges the permissions claim with any space-separated scope
// claim, deduplicated, order preserved.
func permissionSet(claims accessClaims) []string {
	perms := slices.Clone(claims.Permissions)
	for _, scope := range strings.Fields(claims.Scope) {
		if !slices.Contains(perms, scope) {
			perms = append(perms, scope)
		}
	}
	return perms
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return ErrMalformedToken
	case errors.Is(err, jwks.ErrKeysUnavailable):
		return ErrKeysUnavailable
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrBadSignature
	case errors.Is(err, jwks.ErrKeyNotFound):
		return ErrBadSignature
	default:
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
}
