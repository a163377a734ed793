package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	authcache "github.com/philbeliveau/orientor-authcache"
	"github.com/philbeliveau/orientor-authcache/session"
)

type recordContextKey struct{}

// RecordFromContext returns the session record a [Guard] placed on the
// request context.
func RecordFromContext(ctx context.Context) (*session.Record, bool) {
	rec, ok := ctx.Value(recordContextKey{}).(*session.Record)
	return rec, ok
}

// Guard authenticates every request through engine under the given endpoint
// class and, when requiredPermission is non-empty, authorizes the subject
// for it. The session record is placed on the context for the handler.
func Guard(engine *authcache.Engine, class authcache.EndpointClass, requiredPermission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := authcache.WithRequestScope(r.Context())
			ctx = authcache.WithClientIP(ctx, clientIP(r))
			ctx = authcache.WithEndpointClass(ctx, class)

			rec, err := engine.Authenticate(ctx, token)
			if err != nil {
				writeError(w, err)
				return
			}

			if requiredPermission != "" && !engine.Authorize(rec, requiredPermission) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx = context.WithValue(ctx, recordContextKey{}, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission narrows an already-guarded route further. It expects a
// record on the context; use it inside a [Guard].
func RequirePermission(engine *authcache.Engine, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := RecordFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !engine.Authorize(rec, perm) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError maps the engine's error taxonomy to a status code. Bodies stay
// generic: the distinction between malformed, expired, and bad-signature is
// for logs and metrics, not attackers.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcache.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	case errors.Is(err, authcache.ErrKeysUnavailable),
		errors.Is(err, authcache.ErrSessionUnavailable),
		errors.Is(err, authcache.ErrEngineClosed):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, authcache.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// clientIP prefers the last X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
