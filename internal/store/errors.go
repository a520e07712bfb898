package store

import "errors"

var (
	// ErrNotFound is returned by lookups when the requested entity does
	// not exist. Callers decide whether that is fatal.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicatePath is returned when creating a file whose normalized
	// source path is already registered.
	ErrDuplicatePath = errors.New("store: file path already exists")
)
