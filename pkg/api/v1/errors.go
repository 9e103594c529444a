package v1

import "errors"

// Common API errors.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("task not found")
	ErrAlreadyDone    = errors.New("task already reached a terminal state")
)
