package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionOptions tunes one transport connection.
type ConnectionOptions struct {
	SendBuffer   int           // queued outbound frames before the client counts as slow
	WriteTimeout time.Duration // deadline for a single frame write
	PingInterval time.Duration // heartbeat period; zero disables pings
}

// DefaultConnectionOptions returns the settings used by the server.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		SendBuffer:   256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id        string
	conn      *websocket.Conn
	opts      ConnectionOptions
	writeCh   chan []byte
	ctx       context.Context    // cancelled on Close
	cancel    context.CancelFunc // For cleanup
	closeOnce sync.Once          // Ensure single close
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(id string, conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		conn:    conn,
		opts:    opts,
		writeCh: make(chan []byte, opts.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v without blocking. A full queue means the peer is not
// keeping up; the caller is expected to close the connection.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
