package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionEnded    = errors.New("session ended")
	ErrUnauthorized    = errors.New("unauthorized access")
)
