package authcache

import (
	"errors"

	"github.com/philbeliveau/orientor-authcache/internal/keys"
	"github.com/philbeliveau/orientor-authcache/internal/rate"
	"github.com/philbeliveau/orientor-authcache/jwks"
	"github.com/philbeliveau/orientor-authcache/permission"
	"github.com/philbeliveau/orientor-authcache/session"
	"github.com/philbeliveau/orientor-authcache/token"
)

// The error surface splits into four families a caller is expected to treat
// differently: credential errors (reject the request, 401/403), availability
// errors (the system cannot answer, 503), rate limiting (429), and integrity
// errors (tampered cache state, surfaced to the audit trail and treated as a
// miss internally).
var (
	// ErrMalformedToken indicates the bearer token could not be parsed.
	ErrMalformedToken = token.ErrMalformedToken
	// ErrExpiredToken indicates the token's validity window has passed.
	ErrExpiredToken = token.ErrExpiredToken
	// ErrBadSignature indicates the signature or a required claim did not
	// verify.
	ErrBadSignature = token.ErrBadSignature
	// ErrUserNotFound indicates a validly-signed token for a subject the
	// user store does not know.
	ErrUserNotFound = session.ErrUserNotFound
	// ErrPermissionDenied indicates the subject lacks a demanded
	// permission.
	ErrPermissionDenied = permission.ErrPermissionDenied

	// ErrKeysUnavailable indicates no verification keys could be obtained
	// within the staleness grace period.
	ErrKeysUnavailable = jwks.ErrKeysUnavailable
	// ErrSessionUnavailable indicates no trustworthy session record could
	// be produced.
	ErrSessionUnavailable = session.ErrSessionUnavailable

	// ErrRateLimited indicates the client exhausted its endpoint-class
	// budget. Distinct from credential errors so callers can answer 429.
	ErrRateLimited = rate.ErrRateLimited

	// ErrCiphertextTampered indicates a cached session blob failed
	// authenticated decryption.
	ErrCiphertextTampered = keys.ErrCiphertextTampered
)

// ErrEngineClosed is returned by operations on an engine after Close.
var ErrEngineClosed = errors.New("engine closed")
