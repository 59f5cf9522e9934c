package interfaces

import (
	"context"

	"helpconv/pkg/types"
)

// LoginStore persists staff login sessions.
type LoginStore interface {
	// CreateLoginSession stores a new session.
	CreateLoginSession(ctx context.Context, s *types.LoginSession) error

	// GetLoginSession returns ErrSessionNotFound when the token is unknown.
	GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error)

	// UpdateLoginSession rewrites the status of an existing session.
	UpdateLoginSession(ctx context.Context, s *types.LoginSession) error

	// ListActiveLoginSessions returns every session with status active,
	// expired or not, for cache warm-up.
	ListActiveLoginSessions(ctx context.Context) ([]*types.LoginSession, error)

	// HealthCheck verifies the store answers queries.
	HealthCheck(ctx context.Context) error

	Close() error
}
