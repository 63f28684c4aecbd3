package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedID       = errors.New("malformed identifier")
	ErrRejected          = errors.New("rejected")
	ErrInvalidSession    = errors.New("invalid session payload")
	ErrInvalidStatus     = errors.New("invalid alert status")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)
