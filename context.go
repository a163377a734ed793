package authcache

import (
	"context"

	"github.com/philbeliveau/orientor-authcache/internal/rate"
)

// EndpointClass selects which rate-limit budget a request is charged
// against.
type EndpointClass uint8

const (
	// ClassLogin covers login and token-issuance endpoints.
	ClassLogin EndpointClass = iota
	// ClassRefresh covers token refresh endpoints.
	ClassRefresh
	// ClassAPI covers general authenticated calls. The default when no
	// class is attached to the context.
	ClassAPI
)

func (c EndpointClass) rateClass() rate.Class {
	switch c {
	case ClassLogin:
		return rate.ClassLogin
	case ClassRefresh:
		return rate.ClassRefresh
	default:
		return rate.ClassAPI
	}
}

type clientIPContextKey struct{}
type endpointClassContextKey struct{}
type requestScopeContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// as the rate-limit client key and stamps it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithEndpointClass attaches the endpoint class of the current request to
// ctx. Unclassified requests are charged as ClassAPI.
func WithEndpointClass(ctx context.Context, class EndpointClass) context.Context {
	return context.WithValue(ctx, endpointClassContextKey{}, class)
}

// WithRequestScope attaches a fresh per-request memoization scope to ctx.
// Install one at the top of each request (the middleware does this); the
// Engine then never validates the same token twice within that request.
func WithRequestScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestScopeContextKey{}, newRequestScope())
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func endpointClassFromContext(ctx context.Context) EndpointClass {
	if ctx == nil {
		return ClassAPI
	}
	class, ok := ctx.Value(endpointClassContextKey{}).(EndpointClass)
	if !ok {
		return ClassAPI
	}
	return class
}

func requestScopeFrom(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(requestScopeContextKey{}).(*requestScope)
	return scope
}
