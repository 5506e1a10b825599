// Package wstransport implements dialogue.Transport over WebSocket text frames
// using github.com/coder/websocket.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
)

// DefaultReadLimit is the largest inbound frame accepted, in bytes.
const DefaultReadLimit = 1 << 20

// Compile-time interface assertions.
var (
	_ dialogue.Transport = (*Transport)(nil)
	_ dialogue.Conn      = (*conn)(nil)
)

// Option is a functional option for configuring a [Transport].
type Option func(*Transport)

// WithHeader adds an HTTP header sent with every handshake.
func WithHeader(key, value string) Option {
	return func(t *Transport) { t.header.Add(key, value) }
}

// WithReadLimit overrides [DefaultReadLimit]. Non-positive values are ignored.
func WithReadLimit(n int64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.readLimit = n
		}
	}
}

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// Transport dials WebSocket endpoints.
type Transport struct {
	header    http.Header
	readLimit int64
	client    *http.Client
}

// New returns a Transport configured by opts.
func New(opts ...Option) *Transport {
	t := &Transport{
		header:    http.Header{},
		readLimit: DefaultReadLimit,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial performs the WebSocket handshake. ctx bounds the handshake only; the
// returned connection lives until Close.
func (t *Transport) Dial(ctx context.Context, url string) (dialogue.Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: t.header.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial %s: %w", url, err)
	}
	c.SetReadLimit(t.readLimit)
	return &conn{ws: c}, nil
}

// conn adapts a *websocket.Conn to dialogue.Conn.
type conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Read returns the payload of the next data frame. Orderly closes from the
// peer are reported as io.EOF.
func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wstransport: read: %w", err)
	}
	return data, nil
}

// Write sends data as a single text frame.
func (c *conn) Write(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

// Close performs the closing handshake once. Errors caused by the peer having
// already gone away are not reported.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "session closed")
		var ce websocket.CloseError
		if err != nil && !errors.As(err, &ce) && !errors.Is(err, net.ErrClosed) {
			c.closeErr = fmt.Errorf("wstransport: close: %w", err)
		}
	})
	return c.closeErr
}
