// Package permission maps roles to permission sets and answers authorization
// checks for authenticated session records.
//
// # Model
//
// Permission names are assigned stable bit positions at registration time and
// role grants are stored as bitmasks, so expanding a record's roles and
// testing a permission is a handful of word operations. Matching is
// case-sensitive and exact; there is no wildcard or hierarchy. Direct
// permissions carried on a record union with the role-derived set.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. It never
// accesses the network or a store, and it does not import the engine, token,
// or session packages; callers pass role and permission names in.
package permission
