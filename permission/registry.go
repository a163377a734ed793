package permission

import (
	"errors"
	"sync"
)

// Registry maps role names to permission grants. Permission names are
// assigned bit positions on first use and are stable for the lifetime of the
// process.
//
// Registries are intended to be populated during initialization, frozen, and
// then treated as immutable.
type Registry struct {
	mu     sync.RWMutex
	bits   map[string]int
	names  []string
	roles  map[string]mask
	frozen bool
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		bits:  make(map[string]int),
		roles: make(map[string]mask),
	}
}

// Register grants the named permissions to role. Unknown permission names
// are registered implicitly. Registering the same role twice is an error;
// compose the full grant in one call. Must happen before [Registry.Freeze].
func (r *Registry) Register(role string, perms ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if role == "" {
		return errors.New("role name cannot be empty")
	}
	if _, exists := r.roles[role]; exists {
		return errors.New("role already registered: " + role)
	}

	var m mask
	for _, perm := range perms {
		if perm == "" {
			return errors.New("permission name cannot be empty")
		}
		m.set(r.bitLocked(perm))
	}

	r.roles[role] = m
	return nil
}

// bitLocked returns the bit position for perm, assigning the next free one
// on first sight. Caller holds the write lock.
func (r *Registry) bitLocked(perm string) int {
	if bit, ok := r.bits[perm]; ok {
		return bit
	}
	bit := len(r.names)
	r.bits[perm] = bit
	r.names = append(r.names, perm)
	return bit
}

// Freeze prevents further registrations. Call once wiring is complete,
// before the registry is consulted for checks.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// ExpandRoles returns the union of the grants of the given roles. Roles the
// registry does not know contribute nothing.
func (r *Registry) ExpandRoles(roles []string) Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m mask
	for _, role := range roles {
		if grant, ok := r.roles[role]; ok {
			m.union(grant)
		}
	}
	return Set{reg: r, m: m}
}

// Roles returns the registered role names in no particular order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	return out
}

// Permissions returns every permission name seen so far, in bit order.
func (r *Registry) Permissions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Set is an expanded permission set. The zero value is empty.
type Set struct {
	reg *Registry
	m   mask
	// extra holds direct permissions that were never registered to any
	// role and therefore have no bit position.
	extra map[string]struct{}
}

// Add puts a single permission name into the set. Used for the direct
// permissions a session record carries alongside its roles.
func (s *Set) Add(perm string) {
	if perm == "" {
		return
	}
	if s.reg != nil {
		s.reg.mu.RLock()
		bit, ok := s.reg.bits[perm]
		s.reg.mu.RUnlock()
		if ok {
			s.m.set(bit)
			return
		}
	}
	if s.extra == nil {
		s.extra = make(map[string]struct{})
	}
	s.extra[perm] = struct{}{}
}

// Has reports whether the set contains perm. Exact, case-sensitive match.
func (s Set) Has(perm string) bool {
	if s.reg != nil {
		s.reg.mu.RLock()
		bit, ok := s.reg.bits[perm]
		s.reg.mu.RUnlock()
		if ok && s.m.has(bit) {
			return true
		}
	}
	_, ok := s.extra[perm]
	return ok
}

// Names returns the contained permission names in bit order, followed by
// any unregistered direct permissions.
func (s Set) Names() []string {
	var out []string
	if s.reg != nil {
		s.reg.mu.RLock()
		for bit, name := range s.reg.names {
			if s.m.has(bit) {
				out = append(out, name)
			}
		}
		s.reg.mu.RUnlock()
	}
	for perm := range s.extra {
		out = append(out, perm)
	}
	return out
}
