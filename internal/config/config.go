package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"helpconv/pkg/types"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "HELPCONV_"

// Backend names accepted by StoreConfig.Backend.
const (
	BackendFlatFile = "flatfile"
	BackendSQLite   = "sqlite"
	BackendPebble   = "pebble"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Store     *StoreConfig
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Session   *SessionConfig
	Log       *LogConfig

	AdminKey string // required by the login-session admin routes; empty disables them
	Timezone string // zone of wire timestamps; empty or "Local" means the host zone
}

// StoreConfig selects where conversations live.
type StoreConfig struct {
	Backend string
	Path    string // directory for flatfile and pebble; ignored for sqlite
}

// DatabaseConfig locates the SQLite database. It always holds login
// sessions and also conversations when the sqlite backend is selected.
type DatabaseConfig struct {
	Path    string
	Timeout time.Duration
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig tunes client connections.
type WebSocketConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	RateLimit      float64 // inbound frames per second per client; zero disables
	RateBurst      int
	AllowedOrigins []string
}

// SessionConfig governs staff login sessions.
type SessionConfig struct {
	TTL           time.Duration
	RequiredRole  types.Role
	PurgeInterval time.Duration
}

// LogConfig selects log verbosity and format.
type LogConfig struct {
	Level  string
	Pretty bool
}

// FUNCTIONAL DISCOVERY: Production-ready defaults for a single help desk:
// flat files next to the binary, HTTP on 8080, 30s websocket heartbeat
func DefaultConfig() *Config {
	return &Config{
		Store: &StoreConfig{
			Backend: BackendFlatFile,
			Path:    "./data/conversations",
		},
		Database: &DatabaseConfig{
			Path:    "./data/helpconv.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   256,
			RateLimit:    20,
			RateBurst:    40,
		},
		Session: &SessionConfig{
			TTL:           12 * time.Hour,
			RequiredRole:  types.DefaultRequiredRole,
			PurgeInterval: 5 * time.Minute,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Store == nil || c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Session == nil || c.Log == nil {
		return errors.New("incomplete configuration")
	}

	switch c.Store.Backend {
	case BackendFlatFile, BackendPebble:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the %s backend", c.Store.Backend)
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	// Port 0 asks the kernel for a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.RateLimit < 0 {
		return errors.New("WebSocket rate limit cannot be negative")
	}
	if c.WebSocket.RateLimit > 0 && c.WebSocket.RateBurst <= 0 {
		return errors.New("WebSocket rate burst must be positive when rate limiting")
	}

	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if _, err := types.ParseRole(string(c.Session.RequiredRole)); err != nil {
		return fmt.Errorf("session required role: %w", err)
	}
	if c.Session.PurgeInterval <= 0 {
		return errors.New("session purge interval must be positive")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Malformed values are ignored and the previous setting kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("STORE_BACKEND", &c.Store.Backend)
	envString("STORE_PATH", &c.Store.Path)
	envString("DATABASE_PATH", &c.Database.Path)
	envDuration("DATABASE_TIMEOUT", &c.Database.Timeout)

	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	envFloat("WEBSOCKET_RATE_LIMIT", &c.WebSocket.RateLimit)
	envInt("WEBSOCKET_RATE_BURST", &c.WebSocket.RateBurst)
	if v := os.Getenv(EnvPrefix + "WEBSOCKET_ALLOWED_ORIGINS"); v != "" {
		c.WebSocket.AllowedOrigins = splitList(v)
	}

	envDuration("SESSION_TTL", &c.Session.TTL)
	envDuration("SESSION_PURGE_INTERVAL", &c.Session.PurgeInterval)
	if v := os.Getenv(EnvPrefix + "SESSION_REQUIRED_ROLE"); v != "" {
		if role, err := types.ParseRole(v); err == nil {
			c.Session.RequiredRole = role
		}
	}

	envString("LOG_LEVEL", &c.Log.Level)
	if v := os.Getenv(EnvPrefix + "LOG_PRETTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.Pretty = b
		}
	}

	envString("ADMIN_KEY", &c.AdminKey)
	envString("TIMEZONE", &c.Timezone)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile represents the on-disk structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	Store     *StoreConfigFile     `json:"store" yaml:"store"`
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Session   *SessionConfigFile   `json:"session" yaml:"session"`
	Log       *LogConfigFile       `json:"log" yaml:"log"`
	AdminKey  string               `json:"admin_key" yaml:"admin_key"`
	Timezone  string               `json:"timezone" yaml:"timezone"`
}

type StoreConfigFile struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port            int    `json:"port" yaml:"port"`
	Host            string `json:"host" yaml:"host"`
	ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval   string   `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout    string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout" yaml:"write_timeout"`
	BufferSize     int      `json:"buffer_size" yaml:"buffer_size"`
	RateLimit      *float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst      int      `json:"rate_burst" yaml:"rate_burst"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type SessionConfigFile struct {
	TTL           string `json:"ttl" yaml:"ttl"`
	RequiredRole  string `json:"required_role" yaml:"required_role"`
	PurgeInterval string `json:"purge_interval" yaml:"purge_interval"`
}

type LogConfigFile struct {
	Level  string `json:"level" yaml:"level"`
	Pretty *bool  `json:"pretty" yaml:"pretty"`
}

// LoadFromFile reads a JSON or YAML (by extension) configuration file over
// the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(field, s string, dst *time.Duration) {
		if s == "" {
			return
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}
	str := func(s string, dst *string) {
		if s != "" {
			*dst = s
		}
	}
	num := func(n int, dst *int) {
		if n > 0 {
			*dst = n
		}
	}

	if f := file.Store; f != nil {
		str(f.Backend, &config.Store.Backend)
		str(f.Path, &config.Store.Path)
	}
	if f := file.Database; f != nil {
		str(f.Path, &config.Database.Path)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		num(f.Port, &config.HTTP.Port)
		str(f.Host, &config.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		duration("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}
	if f := file.WebSocket; f != nil {
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		num(f.BufferSize, &config.WebSocket.BufferSize)
		if f.RateLimit != nil {
			config.WebSocket.RateLimit = *f.RateLimit
		}
		num(f.RateBurst, &config.WebSocket.RateBurst)
		if len(f.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.Session; f != nil {
		duration("session.ttl", f.TTL, &config.Session.TTL)
		duration("session.purge_interval", f.PurgeInterval, &config.Session.PurgeInterval)
		if f.RequiredRole != "" {
			role, err := types.ParseRole(f.RequiredRole)
			if err != nil {
				errs = append(errs, fmt.Errorf("session.required_role: %w", err))
			} else {
				config.Session.RequiredRole = role
			}
		}
	}
	if f := file.Log; f != nil {
		str(f.Level, &config.Log.Level)
		if f.Pretty != nil {
			config.Log.Pretty = *f.Pretty
		}
	}
	str(file.AdminKey, &config.AdminKey)
	str(file.Timezone, &config.Timezone)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid values in %s: %w", path, err)
	}
	return nil
}

// Load builds the runtime configuration. Precedence: file > environment >
// defaults. A .env file in the working directory feeds the environment.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
