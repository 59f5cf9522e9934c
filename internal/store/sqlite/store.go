// Package sqlite stores conversations and staff login sessions in SQLite.
// Reads run concurrently on the pool; every write is funneled through one
// goroutine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"helpconv/internal/conversation"
	"helpconv/pkg/database"
	"helpconv/pkg/interfaces"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sqlite store is closed")

// ErrNoRows is returned when an update names a row that does not exist.
var ErrNoRows = errors.New("no matching row")

const timeLayout = time.RFC3339Nano

// Store implements conversation.Backend and interfaces.LoginStore.
type Store struct {
	db         *sql.DB
	log        zerolog.Logger
	writeCh    chan writeOperation // single-writer pattern for SQLite
	shutdown   chan struct{}
	wg         sync.WaitGroup
	retryDelay time.Duration

	mu     sync.RWMutex // protects closed
	closed bool
}

var (
	_ conversation.Backend  = (*Store)(nil)
	_ interfaces.LoginStore = (*Store)(nil)
)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open opens (and migrates) the database described by cfg.
func Open(cfg *database.Config, log zerolog.Logger) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(db, log), nil
}

// New wraps an already migrated database and starts the writer goroutine.
func New(db *sql.DB, log zerolog.Logger) *Store {
	s := &Store{
		db:         db,
		log:        log.With().Str("component", "sqlite").Logger(),
		writeCh:    make(chan writeOperation, 100),
		shutdown:   make(chan struct{}),
		retryDelay: 100 * time.Millisecond,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// writeLoop runs every write, retrying a failed one once.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil && !permanent(err) {
				s.log.Warn().Err(err).Dur("retry_in", s.retryDelay).Msg("Database write failed, retrying")
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
				if err != nil {
					s.log.Error().Err(err).Msg("Database write failed after retry")
				}
			}
			op.result <- err
		case <-s.shutdown:
			s.log.Debug().Msg("Database write loop shutting down")
			return
		}
	}
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, interfaces.ErrSessionNotFound)
}

// executeWrite queues a write and waits for its result.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return ErrClosed
	}
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

// HealthCheck validates database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM student_lists").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the pool for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the writer and closes the pool. Later calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
