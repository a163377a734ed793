package postgres

import (
	"slices"
	"testing"
)

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"student", []string{"student"}},
		{"career:read,chat:write", []string{"career:read", "chat:write"}},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); !slices.Equal(got, tc.want) {
			t.Fatalf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewStoreNilDB(t *testing.T) {
	if _, err := NewStore(nil); err != ErrNilDB {
		t.Fatalf("err = %v, want ErrNilDB", err)
	}
}
