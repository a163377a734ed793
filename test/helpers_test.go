//go:build integration
// +build integration

package test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/redis/go-redis/v9"

	authcache "github.com/philbeliveau/orientor-authcache"
	"github.com/philbeliveau/orientor-authcache/session"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "orientor-api"
	testKid      = "itest-1"
)

type memStore struct {
	mu       sync.RWMutex
	profiles map[string]*session.Profile
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[string]*session.Profile)}
}

func (s *memStore) put(p *session.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.SubjectID] = p
}

func (s *memStore) Version(_ context.Context, subjectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[subjectID]
	if !ok {
		return "", nil
	}
	return p.SourceVersion, nil
}

func (s *memStore) Profile(_ context.Context, subjectID string) (*session.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[subjectID]
	if !ok {
		return nil, nil
	}
	out := *p
	out.Roles = append([]string(nil), p.Roles...)
	out.Permissions = append([]string(nil), p.Permissions...)
	return &out, nil
}

type integrationEnv struct {
	engine  *authcache.Engine
	store   *memStore
	redis   redis.UniversalClient
	mr      *miniredis.Miniredis
	key     *rsa.PrivateKey
	jwksURL string
}

func newJWKSServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()

	jwkKey, err := jwk.Import(pub)
	if err != nil {
		t.Fatalf("jwk import failed: %v", err)
	}
	if err := jwkKey.Set(jwk.KeyIDKey, testKid); err != nil {
		t.Fatalf("jwk set kid failed: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(jwkKey); err != nil {
		t.Fatalf("jwk add key failed: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("jwk marshal failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newIntegrationEnv(t *testing.T, mutate func(*authcache.Config)) *integrationEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	srv := newJWKSServer(t, &key.PublicKey)

	store := newMemStore()
	store.put(&session.Profile{
		SubjectID:      "auth0|itest-user",
		InternalUserID: 1,
		Email:          "itest@example.com",
		Roles:          []string{"student"},
		Permissions:    []string{"profile:read"},
		SourceVersion:  "v1",
	})

	cfg := authcache.Config{}
	cfg.JWKS.URL = srv.URL
	cfg.Token.Issuer = testIssuer
	cfg.Token.Audience = testAudience
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcache.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithRoles(map[string][]string{
			"student": {"career:read", "chat:write"},
			"mentor":  {"career:read", "career:write"},
		}).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &integrationEnv{engine: engine, store: store, redis: rdb, mr: mr, key: key, jwksURL: srv.URL}
}

func (e *integrationEnv) sign(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(e.key)
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return signed
}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()

	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", deadline)
}
