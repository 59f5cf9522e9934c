package conversation

import "errors"

// Model errors. Persistence failures are reported as ErrPersistence joined
// with the backend error so callers can test either with errors.Is.
var (
	ErrInvalidState         = errors.New("invalid message state code")
	ErrPersistence          = errors.New("persistence failed")
	ErrContentNotFound      = errors.New("message content not found")
	ErrEmptyStudentID       = errors.New("student ID cannot be empty")
	ErrEmptySubject         = errors.New("conversation subject cannot be empty")
	ErrStudentNotFound      = errors.New("student not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationTarget   = errors.New("exactly one of conversation number and subject is required")
	ErrForeignMessage       = errors.New("message belongs to another conversation")
	ErrAlreadyAttached      = errors.New("already attached to its owner")
)
