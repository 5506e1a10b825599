package dialogue

import "context"

// Conn is one open duplex channel carrying text frames.
//
// Read is only ever called from a single goroutine, as is Write. Close may be
// called concurrently with both and must unblock a pending Read. Calling
// Close more than once must be safe.
type Conn interface {
	// Read blocks until the next inbound frame arrives, ctx is cancelled, or
	// the channel fails. A peer-initiated orderly close is reported as io.EOF.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Close tears the channel down.
	Close() error
}

// Transport opens channels. Implementations must be safe for concurrent use.
type Transport interface {
	// Dial opens a channel to url. ctx bounds the handshake only.
	Dial(ctx context.Context, url string) (Conn, error)
}
