package realtime

import "context"

// StatusCode is a websocket close status.
type StatusCode int

const (
	StatusNormalClosure StatusCode = 1000
	StatusGoingAway     StatusCode = 1001
)

// Transport opens raw connections to an endpoint.
type Transport interface {
	Dial(ctx context.Context, endpoint string, subprotocols []string) (Conn, error)
}

// Conn is a single open connection carrying text frames.
//
// The client reads from one goroutine and writes from another; Close
// may be called concurrently with both.
type Conn interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, frame []byte) error
	// Close sends a close frame with code and reason and releases the
	// connection.
	Close(code StatusCode, reason string) error
}
