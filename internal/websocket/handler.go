package websocket

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"helpconv/internal/conversation"
	"helpconv/internal/metrics"
	"helpconv/internal/protocol"
	"helpconv/pkg/interfaces"
)

// Options configures the websocket endpoint.
type Options struct {
	Connection     ConnectionOptions
	ReadTimeout    time.Duration // silence allowed before a peer is dropped; pongs extend it
	RateLimit      rate.Limit    // inbound frames per second per client; zero disables
	Burst          int
	Location       *time.Location // zone of wire timestamps
	AllowedOrigins []string       // empty allows every origin
}

// DefaultOptions returns the endpoint defaults.
func DefaultOptions() Options {
	return Options{
		Connection:  DefaultConnectionOptions(),
		ReadTimeout: 60 * time.Second,
		RateLimit:   20,
		Burst:       40,
		Location:    time.Local,
	}
}

// Handler upgrades HTTP requests to help-conversation clients.
// ARCHITECTURAL DISCOVERY: The handler owns transport concerns only; the
// per-connection protocol lives in Client and the model in the container
type Handler struct {
	registry  *Registry
	container *conversation.Container
	sessions  interfaces.SessionManager
	metrics   *metrics.Metrics
	log       zerolog.Logger
	opts      Options
	upgrader  websocket.Upgrader
}

// NewHandler creates a websocket handler. m may be nil.
func NewHandler(registry *Registry, container *conversation.Container, sessions interfaces.SessionManager,
	m *metrics.Metrics, log zerolog.Logger, opts Options) *Handler {
	h := &Handler{
		registry:  registry,
		container: container,
		sessions:  sessions,
		metrics:   m,
		log:       log.With().Str("component", "websocket").Logger(),
		opts:      opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request. No credentials are read from the
// URL: the client authenticates with a Session frame once connected.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(uuid.NewString(), ws, h.opts.Connection)
	client := NewClient(conn, h.container, h.sessions, ClientOptions{
		Location:  h.opts.Location,
		RateLimit: h.opts.RateLimit,
		Burst:     h.opts.Burst,
	}, h.log, h.metrics, h.clientClosed)

	if err := h.registry.Register(client); err != nil {
		h.log.Error().Err(err).Msg("Failed to register client")
		_ = conn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.log.Debug().Str("conn_id", conn.ID()).Str("remote", r.RemoteAddr).Msg("Client connected")

	go h.handleConnection(conn, client)
}

func (h *Handler) clientClosed(c *Client) {
	h.registry.Unregister(c)
	h.metrics.ConnectionClosed()
}

// handleConnection is the read pump. Pings are sent by the connection's
// writer; each pong or frame extends the read deadline.
func (h *Handler) handleConnection(conn *Connection, client *Client) {
	defer client.Close()

	ws := conn.conn
	ws.SetReadLimit(protocol.MaxFrameBytes)
	extend := func() error {
		if h.opts.ReadTimeout <= 0 {
			return nil
		}
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	}
	if err := extend(); err != nil {
		h.log.Debug().Err(err).Msg("Failed to set read deadline")
		return
	}
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Info().Err(err).Str("conn_id", conn.ID()).Msg("WebSocket read error")
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			h.metrics.FrameDropped("binary")
			continue
		}
		client.HandleFrame(conn.Context(), string(data))
	}
}
