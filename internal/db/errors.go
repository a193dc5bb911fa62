package db

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict covers uniqueness violations and stale optimistic writes.
	ErrConflict = errors.New("conflict")
)
