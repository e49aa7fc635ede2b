package store

import "errors"

// Sentinel errors shared by all store implementations. Callers match with
// errors.Is and map them to transport-level responses.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrIncomplete        = errors.New("upload incomplete")
	ErrConflict          = errors.New("conflict")
)
