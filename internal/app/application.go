package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"helpconv/internal/api"
	"helpconv/internal/config"
	"helpconv/internal/conversation"
	"helpconv/internal/metrics"
	"helpconv/internal/session"
	"helpconv/internal/websocket"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        zerolog.Logger
	stores     *Stores
	metrics    *metrics.Metrics
	container  *conversation.Container
	sessions   *session.Manager
	registry   *websocket.Registry
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Stores → Metrics → Container → Session → Registry → WebSocket → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// STEP 1: Open persistence (foundation layer)
	stores, err := OpenStores(cfg, log)
	if err != nil {
		return nil, err
	}

	// STEP 2: Load the conversation model through the instrumented backend
	m := metrics.New()
	container := conversation.NewContainer(m.InstrumentBackend(stores.Conversations), log)
	if err := container.Load(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	m.ObserveContainer(container)

	// STEP 3: Initialize session manager with database dependency
	sessions := session.NewManager(stores.Login, log,
		session.WithRequiredRole(cfg.Session.RequiredRole),
		session.WithDefaultTTL(cfg.Session.TTL))
	if err := sessions.LoadActiveSessions(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 4: Initialize WebSocket registry and handler
	registry := websocket.NewRegistry()
	wsHandler := websocket.NewHandler(registry, container, sessions, m, log, websocket.Options{
		Connection: websocket.ConnectionOptions{
			SendBuffer:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
		},
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		RateLimit:      rate.Limit(cfg.WebSocket.RateLimit),
		Burst:          cfg.WebSocket.RateBurst,
		Location:       loc,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})

	// STEP 5: Initialize API server, which also mounts /metrics and the websocket endpoint
	apiServer := api.NewServer(api.Deps{
		Sessions:  sessions,
		Store:     stores.Login,
		Container: container,
		Registry:  registry,
		Metrics:   m.Handler(),
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
		AdminKey:  cfg.AdminKey,
		Location:  loc,
		Log:       log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	stats := container.Stats()
	log.Info().
		Int("students", stats.Students).
		Int("conversations", stats.Conversations).
		Int("messages", stats.Messages).
		Int("active_sessions", sessions.ActiveCount()).
		Msg("Application initialized")

	return &Application{
		config:     cfg,
		log:        log,
		stores:     stores,
		metrics:    m,
		container:  container,
		sessions:   sessions,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start binds the listen address and begins serving. It returns once the
// listener is bound; serving continues in the background.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	go func() {
		defer app.wg.Done()
		app.purgeSessions(runCtx)
	}()

	app.metrics.ServerStartSeconds.SetToCurrentTime()
	app.log.Info().Str("addr", app.Addr()).Msg("Help-conversation server started")
	return nil
}

// purgeSessions ends expired login sessions periodically.
func (app *Application) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(app.config.Session.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.sessions.PurgeExpired(ctx); n > 0 {
				app.log.Info().Int("count", n).Msg("Purged expired login sessions")
			}
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → clients → background work → stores
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("Shutting down help-conversation server")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	// STEP 2: Hijacked websocket connections are not covered by Shutdown
	app.registry.CloseAll()

	// STEP 3: Stop background work
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	// STEP 4: Close stores
	if err := app.stores.Close(); err != nil {
		return fmt.Errorf("failed to close stores: %w", err)
	}

	app.log.Info().Msg("Shutdown complete")
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Container exposes the loaded conversation model.
func (app *Application) Container() *conversation.Container {
	return app.container
}

// Sessions exposes the login session manager.
func (app *Application) Sessions() *session.Manager {
	return app.sessions
}
