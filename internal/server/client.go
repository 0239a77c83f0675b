package server

// Client abstracts the connection a session reads requests from and writes
// messages to.
type Client interface {
	// ReadMessage blocks until a complete message is received.
	ReadMessage() ([]byte, error)

	// Send writes one message. Safe for concurrent use.
	Send(msg Message) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the client's address for logging.
	RemoteAddr() string
}
