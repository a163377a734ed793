// Command authcache-loadtest drives a local engine with concurrent
// Authenticate calls and reports throughput and latency percentiles.
//
// Two phases run back to back: a warm phase where every token has already
// been validated once (token cache hits), and a churn phase where each
// operation invalidates a random session first (forcing reloads through the
// user store).
package main

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	authcache "github.com/philbeliveau/orientor-authcache"
	"github.com/philbeliveau/orientor-authcache/session"
)

const (
	issuer   = "https://issuer.local"
	audience = "orientor-api"
	kid      = "load-1"
)

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key generation failed: %v\n", err)
		os.Exit(1)
	}

	store := newMemStore(*subjects)

	cfg := authcache.Config{}
	cfg.Token.Issuer = issuer
	cfg.Token.Audience = audience
	cfg.RateLimit.Disabled = true

	engine, err := authcache.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(store).
		WithKeyset(staticKeyset{key: &key.PublicKey}).
		WithRoles(map[string][]string{"student": {"career:read", "chat:write"}}).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d subjects...\n", *subjects)
	startSeed := time.Now()
	tokens := make([]string, *subjects)
	for i := 0; i < *subjects; i++ {
		tokens[i], err = signToken(key, store.subjectID(i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "token signing failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	warmStats := runWarmPhase(ctx, engine, tokens, *ops, *concurrency)
	churnStats := runChurnPhase(ctx, engine, store, tokens, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("warm", warmStats)
	printStats("churn", churnStats)
}

func runWarmPhase(ctx context.Context, engine *authcache.Engine, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(tokens))
				t0 := time.Now()
				_, err := engine.Authenticate(ctx, tokens[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runChurnPhase(ctx context.Context, engine *authcache.Engine, store *memStore, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(tokens))
				subject := store.subjectID(idx)
				store.bumpVersion(subject)
				if err := engine.InvalidateSession(ctx, subject); err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err := engine.Authenticate(ctx, tokens[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/s=%.0f p50=%s p95=%s p99=%s\n",
		name, s.ops, s.failures, s.total.Round(time.Millisecond), s.opsPerS,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond))
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type staticKeyset struct {
	key *rsa.PublicKey
}

func (s staticKeyset) KeyByID(_ context.Context, id string) (crypto.PublicKey, error) {
	if id != kid {
		return nil, fmt.Errorf("unknown kid %q", id)
	}
	return s.key, nil
}

func signToken(key *rsa.PrivateKey, subject string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(key)
}

type memStore struct {
	mu       sync.RWMutex
	versions map[string]int
}

func newMemStore(n int) *memStore {
	s := &memStore{versions: make(map[string]int, n)}
	for i := 0; i < n; i++ {
		s.versions[s.subjectID(i)] = 1
	}
	return s
}

func (s *memStore) subjectID(i int) string {
	return fmt.Sprintf("auth0|load-%d", i)
}

func (s *memStore) bumpVersion(subject string) {
	s.mu.Lock()
	s.versions[subject]++
	s.mu.Unlock()
}

func (s *memStore) Version(_ context.Context, subjectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[subjectID]
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("v%d", v), nil
}

func (s *memStore) Profile(_ context.Context, subjectID string) (*session.Profile, error) {
	s.mu.RLock()
	v, ok := s.versions[subjectID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &session.Profile{
		SubjectID:     subjectID,
		Email:         subjectID + "@example.com",
		Roles:         []string{"student"},
		Permissions:   []string{"profile:read"},
		SourceVersion: fmt.Sprintf("v%d", v),
	}, nil
}
