package storage

import "errors"

var (
	ErrNotFound    = errors.New("session document not found")
	ErrCorrupt     = errors.New("session document is corrupt")
	ErrConflict    = errors.New("session document update conflict")
	ErrInvalidUser = errors.New("invalid user id")
)
