package token

import "errors"

var (
	// ErrMalformedToken indicates the token could not be parsed or carries
	// no usable subject. Terminal; eligible for negative caching.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken indicates the token's validity window has passed.
	// Terminal; never retried.
	ErrExpiredToken = errors.New("token expired")
	// ErrBadSignature indicates the signature or a registered claim check
	// (issuer, audience, not-before) failed. Terminal; never retried.
	ErrBadSignature = errors.New("token signature or claims invalid")
	// ErrKeysUnavailable indicates no trustworthy signing keys exist to
	// verify the token. An availability error, not a credential error; a
	// permissive result is never fabricated in its place.
	ErrKeysUnavailable = errors.New("token verification keys unavailable")
)
