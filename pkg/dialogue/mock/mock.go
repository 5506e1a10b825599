// Package mock provides test doubles for the dialogue transport interfaces.
//
// Use Transport to control what Dial returns and to inspect dial attempts.
// Use Conn to script inbound frames and inspect outbound ones.
//
// Example:
//
//	conn := mock.NewConn()
//	tr := &mock.Transport{Conns: []*mock.Conn{conn}}
//	ctrl := dialogue.New(tr, dialogue.WithSettleDelay(0))
//	ctrl.Start(dialogue.SessionContext{Summary: "s", Emotion: emotion.Neutral})
//	conn.Push(`{"type":"message","text":"hi"}`)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
)

// DialCall records a single invocation of Transport.Dial.
type DialCall struct {
	// URL is the endpoint passed to Dial.
	URL string
}

// Transport is a mock implementation of dialogue.Transport.
type Transport struct {
	mu sync.Mutex

	// Conns are handed out by Dial in order. Once exhausted, Dial returns a
	// fresh Conn from NewConn.
	Conns []*Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialFunc, if set, replaces the default Dial behaviour entirely. The call
	// is still recorded.
	DialFunc func(ctx context.Context, url string) (dialogue.Conn, error)

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	// Dialed receives every Conn returned by the default Dial behaviour when
	// non-nil. Sends never block.
	Dialed chan *Conn
}

// Dial records the call and returns the next scripted Conn, or DialErr.
func (t *Transport) Dial(ctx context.Context, url string) (dialogue.Conn, error) {
	t.mu.Lock()
	t.DialCalls = append(t.DialCalls, DialCall{URL: url})
	fn := t.DialFunc
	if fn != nil {
		t.mu.Unlock()
		return fn(ctx, url)
	}
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	var c *Conn
	if len(t.Conns) > 0 {
		c = t.Conns[0]
		t.Conns = t.Conns[1:]
	} else {
		c = NewConn()
	}
	if t.Dialed != nil {
		select {
		case t.Dialed <- c:
		default:
		}
	}
	return c, nil
}

// Calls returns a copy of the recorded dial calls. Thread-safe.
func (t *Transport) Calls() []DialCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DialCall, len(t.DialCalls))
	copy(out, t.DialCalls)
	return out
}

var _ dialogue.Transport = (*Transport)(nil)

// Conn is a mock implementation of dialogue.Conn.
// Inbound frames are scripted with Push; Close makes Read return io.EOF.
type Conn struct {
	inbound chan []byte
	failed  chan error
	done    chan struct{}

	closeOnce sync.Once

	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	written    [][]byte
	writeCh    chan []byte
	closeCalls int
}

// NewConn returns an open Conn with a buffered inbound queue.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		failed:  make(chan error, 1),
		done:    make(chan struct{}),
		writeCh: make(chan []byte, 64),
	}
}

// Push queues an inbound text frame.
func (c *Conn) Push(frame string) {
	c.inbound <- []byte(frame)
}

// Fail makes the next Read return err once queued frames are drained.
func (c *Conn) Fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// Read returns the next pushed frame. Queued frames are delivered before a
// Fail error or a close.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.failed:
		return nil, err
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records a copy of data and returns WriteErr.
func (c *Conn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	select {
	case c.writeCh <- cp:
	default:
	}
	return nil
}

// Close unblocks Read and returns CloseErr. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	err := c.CloseErr
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

// Written returns copies of all frames written so far. Thread-safe.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// Writes returns a channel that receives each written frame as it happens.
func (c *Conn) Writes() <-chan []byte {
	return c.writeCh
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when Close is first called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

var _ dialogue.Conn = (*Conn)(nil)

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
