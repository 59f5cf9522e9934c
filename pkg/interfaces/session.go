package interfaces

import (
	"context"

	"helpconv/pkg/types"
)

// SessionManager resolves login tokens to principals and applies the single
// capability gate in front of the help-conversation protocol.
type SessionManager interface {
	// Create issues a new login session.
	Create(ctx context.Context, req types.CreateLoginSessionRequest) (*types.LoginSession, error)

	// Validate resolves a token, failing with ErrSessionNotFound,
	// ErrSessionExpired or ErrSessionEnded.
	Validate(ctx context.Context, token string) (types.Principal, error)

	// Authorize fails with ErrUnauthorized when p lacks the required role.
	Authorize(p types.Principal) error

	// End terminates a session.
	End(ctx context.Context, token string) error

	// ActiveCount reports how many sessions are cached as active.
	ActiveCount() int
}
