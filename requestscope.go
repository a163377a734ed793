package authcache

import (
	"sync"

	"github.com/philbeliveau/orientor-authcache/session"
)

// authOutcome is one memoized Authenticate result, positive or negative.
// Negative outcomes are memoized too: a request that presents the same bad
// token to several layers pays for validation once.
type authOutcome struct {
	record *session.Record
	err    error
}

// requestScope lives exactly as long as one request's context and is never
// shared across requests. All methods are safe for the concurrent handlers
// a single request may fan out to.
type requestScope struct {
	mu       sync.Mutex
	outcomes map[string]authOutcome
}

func newRequestScope() *requestScope {
	return &requestScope{
		outcomes: make(map[string]authOutcome, 1),
	}
}

func (s *requestScope) lookup(rawToken string) (authOutcome, bool) {
	if s == nil {
		return authOutcome{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[rawToken]
	return out, ok
}

func (s *requestScope) remember(rawToken string, rec *session.Record, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[rawToken] = authOutcome{record: rec, err: err}
}
