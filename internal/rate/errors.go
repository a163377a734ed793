package rate

import "errors"

var (
	// ErrRateLimited is returned when a client exhausts its sliding-window
	// budget. Distinct from authentication failure so callers can back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrLimiterUnavailable indicates the distributed limiter backend is
	// unreachable.
	ErrLimiterUnavailable = errors.New("rate limiter backend unavailable")
)
