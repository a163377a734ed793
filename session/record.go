package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is the materialized session view for one subject. Instances are
// treated as immutable once cached; mutations happen by replacement.
type Record struct {
	SubjectID      string    `msgpack:"sid"`
	InternalUserID int64     `msgpack:"uid"`
	Email          string    `msgpack:"eml"`
	Roles          []string  `msgpack:"rol"`
	Permissions    []string  `msgpack:"prm"`
	SourceVersion  string    `msgpack:"ver"`
	CachedAt       time.Time `msgpack:"cat"`
}

// Clone returns a deep copy so callers can never mutate cached state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Roles = slices.Clone(r.Roles)
	out.Permissions = slices.Clone(r.Permissions)
	return &out
}

// HasRole reports whether the record carries the named role.
func (r *Record) HasRole(role string) bool {
	return r != nil && slices.Contains(r.Roles, role)
}

func encodeRecord(r *Record) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &r, nil
}
