package store

import "errors"

// ErrNotFound is returned by store methods when the requested record does
// not exist. Callers should check with errors.Is.
var ErrNotFound = errors.New("store: record not found")

// ListOptions carries common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}
