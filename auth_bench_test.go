package authcache

import (
	"context"
	"testing"
	"time"
)

func BenchmarkAuthenticateWarm(b *testing.B) {
	f := newEngineFixture(b, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.Disabled = true
	})
	raw := f.sign(b, "auth0|user-1", time.Hour)

	// Prime both cache tiers.
	if _, err := f.engine.Authenticate(context.Background(), raw); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Authenticate(context.Background(), raw); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkAuthenticateScoped(b *testing.B) {
	f := newEngineFixture(b, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.Disabled = true
	})
	raw := f.sign(b, "auth0|user-1", time.Hour)
	ctx := WithRequestScope(context.Background())

	if _, err := f.engine.Authenticate(ctx, raw); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Authenticate(ctx, raw); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkAuthorize(b *testing.B) {
	f := newEngineFixture(b, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.Disabled = true
	})
	raw := f.sign(b, "auth0|user-1", time.Hour)

	rec, err := f.engine.Authenticate(context.Background(), raw)
	if err != nil {
		b.Fatalf("authenticate failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !f.engine.Authorize(rec, "career:read") {
			b.Fatal("expected permission to hold")
		}
	}
}
