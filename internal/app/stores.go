package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"helpconv/internal/config"
	"helpconv/internal/conversation"
	"helpconv/internal/store/flatfile"
	"helpconv/internal/store/pebble"
	"helpconv/internal/store/sqlite"
	pkgdatabase "helpconv/pkg/database"
)

// Stores are the persistence components: the SQLite database that always
// holds login sessions, and the conversation backend selected by
// configuration (which may be that same database).
type Stores struct {
	Login         *sqlite.Store
	Conversations conversation.Backend
}

// OpenStores opens the login-session database and the conversation backend.
func OpenStores(cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	login, err := sqlite.Open(&pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var backend conversation.Backend
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		backend = login
	case config.BackendFlatFile:
		backend, err = flatfile.Open(cfg.Store.Path, log)
	case config.BackendPebble:
		backend, err = pebble.Open(cfg.Store.Path, log)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		_ = login.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	log.Info().
		Str("backend", cfg.Store.Backend).
		Str("database", cfg.Database.Path).
		Msg("Stores opened")
	return &Stores{Login: login, Conversations: backend}, nil
}

// Close closes the conversation backend and then the database.
func (s *Stores) Close() error {
	var errs []error
	if s.Conversations != conversation.Backend(s.Login) {
		if err := s.Conversations.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conversation store: %w", err))
		}
	}
	if err := s.Login.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}
