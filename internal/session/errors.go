package session

import "errors"

// Session management errors not shared through pkg/interfaces.
var (
	ErrEmptyToken          = errors.New("session token is required")
	ErrSessionAlreadyEnded = errors.New("session is already ended")
)
