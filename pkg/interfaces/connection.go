package interfaces

// Connection is the outbound side of one websocket client.
// FUNCTIONAL DISCOVERY: WriteJSON must never block the caller; model
// listeners call it while holding the conversation lock, so
// implementations queue and return.
type Connection interface {
	// WriteJSON queues v for delivery. An error means the connection is
	// closed or too slow and is being torn down.
	WriteJSON(v interface{}) error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// ID returns the unique connection identifier.
	ID() string
}
