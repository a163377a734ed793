package middleware

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authcache "github.com/philbeliveau/orientor-authcache"
	"github.com/philbeliveau/orientor-authcache/jwks"
	"github.com/philbeliveau/orientor-authcache/session"
)

type staticKeyset struct {
	keys map[string]crypto.PublicKey
}

func (s *staticKeyset) KeyByID(_ context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := s.keys[kid]
	if !ok {
		return nil, jwks.ErrKeyNotFound
	}
	return key, nil
}

type memoryStore struct {
	mu       sync.Mutex
	profiles map[string]*session.Profile
}

func (s *memoryStore) Version(_ context.Context, subjectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.profiles[subjectID]; p != nil {
		return p.SourceVersion, nil
	}
	return "", nil
}

func (s *memoryStore) Profile(_ context.Context, subjectID string) (*session.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[subjectID]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type guardFixture struct {
	engine *authcache.Engine
	priv   *rsa.PrivateKey
}

func newGuardFixture(t *testing.T, mutate func(*authcache.Config)) *guardFixture {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa generate failed: %v", err)
	}

	store := &memoryStore{profiles: map[string]*session.Profile{
		"auth0|user-1": {
			SubjectID:     "auth0|user-1",
			Email:         "user-1@example.com",
			Roles:         []string{"student"},
			SourceVersion: "v1",
		},
	}}

	cfg := authcache.Config{
		Token: authcache.TokenConfig{Issuer: "https://issuer.test", Audience: "orientor-api"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcache.New().
		WithConfig(cfg).
		WithKeyset(&staticKeyset{keys: map[string]crypto.PublicKey{"kid-1": priv.Public()}}).
		WithUserStore(store).
		WithRoles(map[string][]string{"student": {"career:read"}}).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &guardFixture{engine: engine, priv: priv}
}

func (f *guardFixture) sign(t *testing.T, subject string) string {
	t.Helper()

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "https://issuer.test",
		"aud": "orientor-api",
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "kid-1"

	signed, err := tok.SignedString(f.priv)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return signed
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := RecordFromContext(r.Context())
		if !ok || rec.SubjectID == "" {
			t.Error("no record on handler context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/career", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestGuardAllowsValidToken(t *testing.T) {
	f := newGuardFixture(t, nil)
	handler := Guard(f.engine, authcache.ClassAPI, "career:read")(okHandler(t))

	w := doRequest(handler, f.sign(t, "auth0|user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %q", w.Code, w.Body.String())
	}
}

func TestGuardRejectsMissingAndMalformedAuth(t *testing.T) {
	f := newGuardFixture(t, nil)
	handler := Guard(f.engine, authcache.ClassAPI, "")(okHandler(t))

	if w := doRequest(handler, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: status = %d, want 401", w.Code)
	}
	if w := doRequest(handler, "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Fatalf("malformed token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("non-bearer scheme: status = %d, want 401", w.Code)
	}
}

func TestGuardForbidsMissingPermission(t *testing.T) {
	f := newGuardFixture(t, nil)
	handler := Guard(f.engine, authcache.ClassAPI, "admin:write")(okHandler(t))

	if w := doRequest(handler, f.sign(t, "auth0|user-1")); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGuardUnknownSubjectIs401(t *testing.T) {
	f := newGuardFixture(t, nil)
	handler := Guard(f.engine, authcache.ClassAPI, "")(okHandler(t))

	if w := doRequest(handler, f.sign(t, "auth0|ghost")); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestGuardRateLimitIs429(t *testing.T) {
	f := newGuardFixture(t, func(cfg *authcache.Config) {
		cfg.RateLimit.API = authcache.ClassBudget{Window: time.Minute, Budget: 2}
	})
	handler := Guard(f.engine, authcache.ClassAPI, "")(okHandler(t))
	token := f.sign(t, "auth0|user-1")

	for i := 0; i < 2; i++ {
		if w := doRequest(handler, token); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := doRequest(handler, token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("429 without Retry-After")
	}
}

func TestRequirePermissionComposes(t *testing.T) {
	f := newGuardFixture(t, nil)
	inner := RequirePermission(f.engine, "career:read")(okHandler(t))
	handler := Guard(f.engine, authcache.ClassAPI, "")(inner)

	if w := doRequest(handler, f.sign(t, "auth0|user-1")); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	denied := Guard(f.engine, authcache.ClassAPI, "")(RequirePermission(f.engine, "admin:write")(okHandler(t)))
	if w := doRequest(denied, f.sign(t, "auth0|user-1")); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestClientIPExtraction(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "198.51.100.4:9000", "", "198.51.100.4"},
		{"xff single", "10.0.0.1:1234", "203.0.113.7", "203.0.113.7"},
		{"xff chain uses last hop", "10.0.0.1:1234", "1.2.3.4, 203.0.113.7", "203.0.113.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(req); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
