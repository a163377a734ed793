package authcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/philbeliveau/orientor-authcache/internal/rate"
	"github.com/philbeliveau/orientor-authcache/jwks"
	"github.com/philbeliveau/orientor-authcache/permission"
	"github.com/philbeliveau/orientor-authcache/session"
	"github.com/philbeliveau/orientor-authcache/token"
)

// Engine is the authentication front door. Authenticate resolves a bearer
// token to a session record through the cache tiers; Authorize answers
// permission checks against that record. Construct with [Builder.Build];
// stop with [Engine.Close]. Safe for concurrent use.
type Engine struct {
	cfg Config
	log logr.Logger

	registry   *permission.Registry
	controller *permission.Controller

	jwksCache *jwks.Cache
	validator *token.Validator
	sessions  *session.Cache

	limiter   *rate.Limiter
	distLogin *rate.DistributedLimiter

	metrics *Metrics
	audit   *auditDispatcher

	closed atomic.Bool
}

// Authenticate validates rawToken and returns the subject's current session
// record. The request scope on ctx, when present, short-circuits repeat
// calls within one request, for positive and negative outcomes alike.
//
// Errors follow the package taxonomy: credential errors mean the token is
// no good, ErrRateLimited means the caller is over budget, and availability
// errors mean the engine cannot answer trustworthily right now.
func (e *Engine) Authenticate(ctx context.Context, rawToken string) (*session.Record, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	scope := requestScopeFrom(ctx)
	if out, ok := scope.lookup(rawToken); ok {
		e.metrics.Inc(MetricScopeHits)
		if out.err != nil {
			return nil, out.err
		}
		return out.record.Clone(), nil
	}

	if err := e.checkBudget(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := e.authenticate(ctx, rawToken)
	e.metrics.Observe(MetricAuthLatency, time.Since(start))

	scope.remember(rawToken, rec, err)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (e *Engine) authenticate(ctx context.Context, rawToken string) (*session.Record, error) {
	result, err := e.validator.Validate(ctx, rawToken)
	if err != nil {
		e.rejectToken(ctx, err)
		return nil, err
	}

	rec, err := e.sessions.Get(ctx, result.SubjectID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUserNotFound):
			e.metrics.Inc(MetricAuthFailure)
			e.audit.Emit(ctx, AuditEvent{
				EventType: AuditAuthRejected,
				SubjectID: result.SubjectID,
				ClientIP:  clientIPFromContext(ctx),
				Error:     err.Error(),
			})
		default:
			e.metrics.Inc(MetricAuthUnavailable)
		}
		return nil, err
	}

	e.metrics.Inc(MetricAuthSuccess)
	return rec, nil
}

// rejectToken classifies a validation failure into metrics and audit.
func (e *Engine) rejectToken(ctx context.Context, err error) {
	if errors.Is(err, jwks.ErrKeysUnavailable) {
		e.metrics.Inc(MetricAuthUnavailable)
		e.audit.Emit(ctx, AuditEvent{
			EventType: AuditKeysUnavailable,
			ClientIP:  clientIPFromContext(ctx),
			Error:     err.Error(),
		})
		return
	}

	e.metrics.Inc(MetricAuthFailure)
	e.audit.Emit(ctx, AuditEvent{
		EventType: AuditAuthRejected,
		ClientIP:  clientIPFromContext(ctx),
		Error:     err.Error(),
	})
}

// checkBudget charges the request against its endpoint class. Requests
// without a client IP on the context are not limited; the middleware always
// attaches one.
func (e *Engine) checkBudget(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	clientID := clientIPFromContext(ctx)
	if clientID == "" {
		return nil
	}
	class := endpointClassFromContext(ctx)

	if class == ClassLogin && e.distLogin != nil {
		err := e.distLogin.Allow(ctx, clientID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, rate.ErrLimiterUnavailable):
			// Redis down: fall back to the per-instance budget rather
			// than refusing all logins.
			e.log.V(1).Info("distributed limiter unavailable, using local budget", "error", err)
		default:
			e.refuse(ctx, clientID, class)
			return fmt.Errorf("%w: login budget exhausted", ErrRateLimited)
		}
	}

	if !e.limiter.Allow(class.rateClass(), clientID) {
		e.refuse(ctx, clientID, class)
		return fmt.Errorf("%w: retry in %s", ErrRateLimited, e.limiter.Retry(class.rateClass()))
	}
	return nil
}

func (e *Engine) refuse(ctx context.Context, clientID string, class EndpointClass) {
	e.metrics.Inc(MetricAuthRateLimited)
	e.audit.Emit(ctx, AuditEvent{
		EventType: AuditRateLimited,
		ClientIP:  clientID,
		Metadata:  map[string]string{"class": fmt.Sprintf("%d", class)},
	})
}

// Authorize reports whether the record holds the required permission, via
// its roles or its direct permission grants.
func (e *Engine) Authorize(record *session.Record, requiredPermission string) bool {
	if record == nil {
		return false
	}
	ok := e.controller.Can(record.Roles, record.Permissions, requiredPermission)
	if !ok {
		e.metrics.Inc(MetricAuthorizeDenied)
	}
	return ok
}

// RequireAll returns ErrPermissionDenied naming the first permission the
// record is missing.
func (e *Engine) RequireAll(record *session.Record, perms ...string) error {
	if record == nil {
		return fmt.Errorf("%w: no session", ErrPermissionDenied)
	}
	err := e.controller.RequireAll(record.Roles, record.Permissions, perms...)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeDenied)
	}
	return err
}

// InvalidateSession drops the subject's cached session everywhere. Call
// from every write path that changes a user's roles or profile.
func (e *Engine) InvalidateSession(ctx context.Context, subjectID string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.metrics.Inc(MetricInvalidations)
	e.audit.Emit(ctx, AuditEvent{
		EventType: AuditSessionInvalidated,
		SubjectID: subjectID,
		ClientIP:  clientIPFromContext(ctx),
	})
	return e.sessions.Invalidate(ctx, subjectID)
}

// onTamper is the session cache's integrity callback.
func (e *Engine) onTamper(subjectID string, err error) {
	e.metrics.Inc(MetricTamperDetected)
	e.audit.Emit(context.Background(), AuditEvent{
		EventType: AuditTamperDetected,
		SubjectID: subjectID,
		Error:     err.Error(),
	})
}

// MetricsSnapshot copies the engine counters, folding in the current
// subsystem statistics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e.metrics.Enabled() {
		ts := e.validator.Stats()
		e.metrics.set(MetricTokenCacheHits, ts.Hits)
		e.metrics.set(MetricTokenCacheMisses, ts.Misses)
		e.metrics.set(MetricTokenCacheEvictions, ts.Evictions)

		ss := e.sessions.Stats()
		e.metrics.set(MetricSessionCacheHits, ss.Hits)
		e.metrics.set(MetricSessionCacheMisses, ss.Misses)
		e.metrics.set(MetricSessionCacheEvictions, ss.Evictions)

		sync := e.sessions.SyncStats()
		e.metrics.set(MetricSessionVersionChecks, sync.VersionChecks)
		e.metrics.set(MetricSessionFullReloads, sync.FullReloads)
		e.metrics.set(MetricSessionRestamps, sync.Restamps)

		if e.jwksCache != nil {
			js := e.jwksCache.Stats()
			e.metrics.set(MetricJWKSFetches, js.Fetches)
			e.metrics.set(MetricJWKSFetchFailures, js.FetchFailures)
			e.metrics.set(MetricJWKSServedStale, js.ServedStale)
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// DropIfFull.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close stops background goroutines and flushes the audit buffer.
// Idempotent; operations after Close return ErrEngineClosed.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.limiter != nil {
		e.limiter.Close()
	}
	e.validator.Close()
	e.sessions.Close()
	if e.jwksCache != nil {
		e.jwksCache.Close()
	}
	e.audit.Close()
}
