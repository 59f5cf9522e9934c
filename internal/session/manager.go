// Package session issues and validates staff login sessions. Active
// sessions are cached in memory; the LoginStore is the source of truth.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

// DefaultTTL applies when a create request does not name one.
const DefaultTTL = 12 * time.Hour

// Manager implements the SessionManager interface
type Manager struct {
	store    interfaces.LoginStore
	log      zerolog.Logger
	required types.Role
	ttl      time.Duration
	now      func() time.Time

	active map[string]*types.LoginSession // token -> session
	mu     sync.RWMutex
}

var _ interfaces.SessionManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithRequiredRole sets the role Authorize demands.
func WithRequiredRole(r types.Role) Option {
	return func(m *Manager) { m.required = r }
}

// WithDefaultTTL sets the lifetime of sessions created without a TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new session manager
func NewManager(store interfaces.LoginStore, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		log:      log.With().Str("component", "session").Logger(),
		required: types.DefaultRequiredRole,
		ttl:      DefaultTTL,
		now:      time.Now,
		active:   make(map[string]*types.LoginSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadActiveSessions loads all active sessions from the store into memory.
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.store.ListActiveLoginSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		m.active[s.Token] = s
	}
	m.log.Info().Int("count", len(sessions)).Msg("Loaded active login sessions")
	return nil
}

// Create issues a new login session.
func (m *Manager) Create(ctx context.Context, req types.CreateLoginSessionRequest) (*types.LoginSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ttl := m.ttl
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	screen := req.ScreenName
	if screen == "" {
		screen = req.UserID
	}

	now := m.now().UTC().Truncate(time.Second)
	s := &types.LoginSession{
		Token:      uuid.New().String(),
		UserID:     req.UserID,
		ScreenName: screen,
		Role:       req.Role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Status:     types.SessionStatusActive,
	}
	if err := m.store.CreateLoginSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create login session: %w", err)
	}

	m.mu.Lock()
	m.active[s.Token] = s
	m.mu.Unlock()

	m.log.Info().Str("user_id", s.UserID).Str("role", string(s.Role)).Time("expires_at", s.ExpiresAt).Msg("Created login session")
	return s, nil
}

// Validate resolves a token to its principal.
func (m *Manager) Validate(ctx context.Context, token string) (types.Principal, error) {
	if token == "" {
		return types.Principal{}, interfaces.ErrSessionNotFound
	}

	m.mu.RLock()
	s, cached := m.active[token]
	m.mu.RUnlock()

	if !cached {
		var err error
		s, err = m.store.GetLoginSession(ctx, token)
		if err != nil {
			return types.Principal{}, err
		}
		if s.Status != types.SessionStatusActive {
			return types.Principal{}, interfaces.ErrSessionEnded
		}
	}

	if s.Expired(m.now()) {
		m.expire(ctx, s)
		return types.Principal{}, interfaces.ErrSessionExpired
	}

	if !cached {
		m.mu.Lock()
		m.active[token] = s
		m.mu.Unlock()
	}
	return s.Principal(), nil
}

// expire marks an expired session ended and drops it from the cache.
// Failing to persist only costs a repeat on the next lookup.
func (m *Manager) expire(ctx context.Context, s *types.LoginSession) {
	m.mu.Lock()
	delete(m.active, s.Token)
	m.mu.Unlock()

	ended := *s
	ended.Status = types.SessionStatusEnded
	if err := m.store.UpdateLoginSession(ctx, &ended); err != nil {
		m.log.Warn().Err(err).Str("user_id", s.UserID).Msg("Failed to mark expired session ended")
		return
	}
	m.log.Debug().Str("user_id", s.UserID).Msg("Login session expired")
}

// Authorize applies the capability gate.
func (m *Manager) Authorize(p types.Principal) error {
	if !p.Role.CanActAs(m.required) {
		return fmt.Errorf("%w: role %q, need %q", interfaces.ErrUnauthorized, p.Role, m.required)
	}
	return nil
}

// End terminates a session.
func (m *Manager) End(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	m.mu.RLock()
	s, exists := m.active[token]
	m.mu.RUnlock()

	if !exists {
		dbSession, err := m.store.GetLoginSession(ctx, token)
		if err != nil {
			return err
		}
		if dbSession.Status == types.SessionStatusEnded {
			return ErrSessionAlreadyEnded
		}
		s = dbSession
	}

	ended := *s
	ended.Status = types.SessionStatusEnded
	if err := m.store.UpdateLoginSession(ctx, &ended); err != nil {
		return fmt.Errorf("failed to end login session: %w", err)
	}

	m.mu.Lock()
	delete(m.active, token)
	m.mu.Unlock()

	m.log.Info().Str("user_id", s.UserID).Msg("Ended login session")
	return nil
}

// PurgeExpired ends every cached session past its expiry and returns how
// many were removed.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	now := m.now()
	var expired []*types.LoginSession
	m.mu.RLock()
	for _, s := range m.active {
		if s.Expired(now) {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.expire(ctx, s)
	}
	return len(expired)
}

// ActiveCount reports the number of cached active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// IsAuthError reports whether err is one of the token or role failures a
// client should see as a session error rather than an internal failure.
func IsAuthError(err error) bool {
	return errors.Is(err, interfaces.ErrSessionNotFound) ||
		errors.Is(err, interfaces.ErrSessionExpired) ||
		errors.Is(err, interfaces.ErrSessionEnded) ||
		errors.Is(err, interfaces.ErrUnauthorized)
}
