package permission

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned by the Require helpers when the subject
// lacks a demanded permission.
var ErrPermissionDenied = errors.New("permission denied")

// Controller answers authorization questions against a frozen [Registry].
// Checks combine a subject's role-derived permissions with the direct
// permissions carried on its session record.
type Controller struct {
	reg *Registry
}

// NewController creates a [Controller] over reg.
func NewController(reg *Registry) (*Controller, error) {
	if reg == nil {
		return nil, errors.New("permission: registry required")
	}
	return &Controller{reg: reg}, nil
}

// Expand materializes the full permission set of a subject with the given
// roles and direct permissions.
func (c *Controller) Expand(roles, direct []string) Set {
	set := c.reg.ExpandRoles(roles)
	for _, perm := range direct {
		set.Add(perm)
	}
	return set
}

// Can reports whether the subject holds perm.
func (c *Controller) Can(roles, direct []string, perm string) bool {
	return c.Expand(roles, direct).Has(perm)
}

// RequireAll returns ErrPermissionDenied naming the first permission the
// subject is missing, or nil when it holds every one.
func (c *Controller) RequireAll(roles, direct []string, perms ...string) error {
	set := c.Expand(roles, direct)
	for _, perm := range perms {
		if !set.Has(perm) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// RequireAny returns nil when the subject holds at least one of perms.
func (c *Controller) RequireAny(roles, direct []string, perms ...string) error {
	if len(perms) == 0 {
		return nil
	}
	set := c.Expand(roles, direct)
	for _, perm := range perms {
		if set.Has(perm) {
			return nil
		}
	}
	return fmt.Errorf("%w: none of %v", ErrPermissionDenied, perms)
}
