package permission

import (
	"errors"
	"strings"
	"testing"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	reg := NewRegistry()
	reg.Register("student", "career:read", "chat:write")
	reg.Register("mentor", "career:read", "career:write")
	reg.Freeze()

	c, err := NewController(reg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestControllerCan(t *testing.T) {
	c := testController(t)

	if !c.Can([]string{"student"}, nil, "chat:write") {
		t.Fatal("student denied chat:write")
	}
	if c.Can([]string{"student"}, nil, "career:write") {
		t.Fatal("student allowed career:write")
	}
	if c.Can(nil, nil, "career:read") {
		t.Fatal("empty subject allowed career:read")
	}
}

func TestControllerDirectPermissionsUnion(t *testing.T) {
	c := testController(t)

	// Direct grants extend the role-derived set, registered or not.
	if !c.Can([]string{"student"}, []string{"career:write"}, "career:write") {
		t.Fatal("registered direct permission not honored")
	}
	if !c.Can([]string{"student"}, []string{"beta:flag"}, "beta:flag") {
		t.Fatal("unregistered direct permission not honored")
	}
}

func TestRequireAll(t *testing.T) {
	c := testController(t)

	if err := c.RequireAll([]string{"student"}, nil, "career:read", "chat:write"); err != nil {
		t.Fatalf("RequireAll: %v", err)
	}

	err := c.RequireAll([]string{"student"}, nil, "career:read", "career:write")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if !strings.Contains(err.Error(), "career:write") {
		t.Fatalf("error does not name the missing permission: %v", err)
	}
}

func TestRequireAny(t *testing.T) {
	c := testController(t)

	if err := c.RequireAny([]string{"student"}, nil, "career:write", "chat:write"); err != nil {
		t.Fatalf("RequireAny: %v", err)
	}
	if err := c.RequireAny([]string{"student"}, nil, "career:write"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	// Demanding nothing is vacuously satisfied.
	if err := c.RequireAny(nil, nil); err != nil {
		t.Fatalf("RequireAny(): %v", err)
	}
}

func TestNewControllerRequiresRegistry(t *testing.T) {
	if _, err := NewController(nil); err == nil {
		t.Fatal("expected an error for a nil registry")
	}
}
