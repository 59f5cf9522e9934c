package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path" yaml:"database_path"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// DefaultConfig returns the settings used when nothing is configured.
// FUNCTIONAL DISCOVERY: ten connections cover a few dozen staff clients;
// writes are serialized by the store anyway.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/helpconv.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// SQLite pragmas applied to every opened database.
// ARCHITECTURAL DISCOVERY: WAL keeps readers unblocked while the single
// writer goroutine commits.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// Open opens the database described by c, applies the pragmas and the
// embedded migrations.
func Open(c *Config) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", c.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	if _, err := db.Exec(sqliteOptimizations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	migrations := NewMigrationManager(db, Migrations, "migrations")
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invalid database schema: %w", err)
	}
	return db, nil
}
