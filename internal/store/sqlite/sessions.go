package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

// CreateLoginSession stores a new login session.
func (s *Store) CreateLoginSession(ctx context.Context, ls *types.LoginSession) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO login_sessions (token, user_id, screen_name, role, created_at, expires_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ls.Token, ls.UserID, ls.ScreenName, string(ls.Role), ls.CreatedAt.UTC(), ls.ExpiresAt.UTC(), ls.Status)
		if err != nil {
			return fmt.Errorf("failed to insert login session: %w", err)
		}
		return nil
	})
}

const loginSessionColumns = `token, user_id, screen_name, role, created_at, expires_at, status`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLoginSession(row scanner) (*types.LoginSession, error) {
	var (
		ls   types.LoginSession
		role string
	)
	if err := row.Scan(&ls.Token, &ls.UserID, &ls.ScreenName, &role, &ls.CreatedAt, &ls.ExpiresAt, &ls.Status); err != nil {
		return nil, err
	}
	ls.Role = types.Role(role)
	return &ls, nil
}

// GetLoginSession returns interfaces.ErrSessionNotFound for unknown tokens.
func (s *Store) GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loginSessionColumns+` FROM login_sessions WHERE token = ?`, token)
	ls, err := scanLoginSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query login session: %w", err)
	}
	return ls, nil
}

// UpdateLoginSession rewrites the status of a session.
func (s *Store) UpdateLoginSession(ctx context.Context, ls *types.LoginSession) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		err := execOne(ctx, db, `UPDATE login_sessions SET status = ? WHERE token = ?`, ls.Status, ls.Token)
		if errors.Is(err, ErrNoRows) {
			return interfaces.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update login session: %w", err)
		}
		return nil
	})
}

// ListActiveLoginSessions returns sessions with status active, newest first.
func (s *Store) ListActiveLoginSessions(ctx context.Context) ([]*types.LoginSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loginSessionColumns+`
		FROM login_sessions
		WHERE status = 'active'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active login sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LoginSession
	for rows.Next() {
		ls, err := scanLoginSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login session: %w", err)
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login sessions: %w", err)
	}
	return out, nil
}
