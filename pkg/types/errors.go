package types

import "errors"

// Validation errors for wire payloads and login sessions.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters of letters, digits, '_', '-', '@' or '.'")
	ErrInvalidStudentID   = errors.New("student ID must be 1-50 characters of letters, digits, '_', '-', '@' or '.'")
	ErrInvalidRole        = errors.New("role must be one of student, tutor, instructor, admin")
	ErrInvalidSubject     = errors.New("subject must be 1-200 characters")
	ErrConversationTarget = errors.New("exactly one of convNbr and subject is required")
	ErrInvalidNumber      = errors.New("conversation and message numbers must be positive")
	ErrInvalidState       = errors.New("state must be one of D, U, u, R, r")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrInvalidTimestamp   = errors.New("timestamp must be 2006-01-02T15:04:05 or RFC 3339")
	ErrInvalidScreenName  = errors.New("screen name must be at most 100 characters")
	ErrInvalidSessionTTL  = errors.New("ttl_seconds cannot be negative")
)
