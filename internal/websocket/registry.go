package websocket

import (
	"sync"
)

// Registry tracks live clients by connection id.
// ARCHITECTURAL DISCOVERY: Pure connection tracking without business logic;
// event routing lives in the clients themselves as container listeners
type Registry struct {
	mu      sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register adds a client. A client already registered under the same id is
// replaced and closed asynchronously.
func (r *Registry) Register(c *Client) error {
	if c == nil {
		return ErrNilClient
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close the replaced client asynchronously; its
	// close hook unregisters through this same lock
	if existing, ok := r.clients[c.ID()]; ok && existing != c {
		go existing.Close()
	}
	r.clients[c.ID()] = c
	return nil
}

// Unregister removes c. It only removes the exact instance registered so a
// stale client cannot evict its replacement.
func (r *Registry) Unregister(c *Client) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.clients[c.ID()]; ok && registered == c {
		delete(r.clients, c.ID())
	}
}

// Get returns the client with the given connection id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// GetStats returns registry statistics for monitoring and debugging.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	authenticated := 0
	for _, c := range clients {
		if c.isAuthenticated() {
			authenticated++
		}
	}
	return map[string]int{
		"total_connections":         len(clients),
		"authenticated_connections": authenticated,
	}
}

// CloseAll closes every registered client. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
