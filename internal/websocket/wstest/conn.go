// Package wstest provides an in-memory transport for exercising sockets
// without a network.
package wstest

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephasgame/internal/protocol"
)

// ErrClosed is returned by reads and writes after the connection is closed.
var ErrClosed = errors.New("wstest: connection closed")

type frame struct {
	messageType int
	data        []byte
}

// Conn is a fake transport. Inbound frames are injected with Deliver; frames the
// socket writes are recorded and can be inspected with Frames and Events.
type Conn struct {
	inbound chan frame
	closed  chan struct{}

	mu          sync.Mutex
	isClosed    bool
	peerCode    int
	frames      [][]byte
	pings       int
	closeCode   int
	closeCalls  int
	writeErr    error
	readLimit   int64
	pongHandler func(string) error
}

// NewConn returns an open fake connection.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan frame, 64),
		closed:  make(chan struct{}),
	}
}

// ReadMessage blocks until a frame is delivered or the connection closes.
func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.closed:
		c.mu.Lock()
		code := c.peerCode
		c.mu.Unlock()
		if code != 0 {
			return 0, nil, &websocket.CloseError{Code: code}
		}
		return 0, nil, ErrClosed
	}
}

// WriteMessage records a data frame.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return ErrClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

// WriteControl records pings and close frames.
func (c *Conn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return ErrClosed
	}
	switch messageType {
	case websocket.PingMessage:
		c.pings++
	case websocket.CloseMessage:
		if len(data) >= 2 {
			c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
	}
	return nil
}

// SetWriteDeadline is a no-op.
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// SetReadLimit records the limit.
func (c *Conn) SetReadLimit(limit int64) {
	c.mu.Lock()
	c.readLimit = limit
	c.mu.Unlock()
}

// SetPongHandler stores the handler invoked by Pong.
func (c *Conn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.pongHandler = h
	c.mu.Unlock()
}

// Close closes the connection. Further reads and writes fail.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return nil
}

// Deliver injects an inbound text frame.
func (c *Conn) Deliver(data []byte) {
	select {
	case c.inbound <- frame{messageType: websocket.TextMessage, data: data}:
	case <-c.closed:
	}
}

// Pong simulates a pong from the peer. It reports false when no pong handler
// is installed yet.
func (c *Conn) Pong() bool {
	c.mu.Lock()
	h := c.pongHandler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	_ = h("")
	return true
}

// PeerClose simulates the peer closing with code.
func (c *Conn) PeerClose(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return
	}
	c.peerCode = code
	c.isClosed = true
	close(c.closed)
}

// FailWrites makes every following data write fail with err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Frames returns a copy of the recorded data frames.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events decodes the recorded frames. Origin-wrapped frames are unwrapped;
// frames that decode as neither are skipped.
func (c *Conn) Events() []protocol.Event {
	var events []protocol.Event
	for _, f := range c.Frames() {
		if ev, err := protocol.Decode(f); err == nil {
			events = append(events, ev)
			continue
		}
		if _, ev, err := protocol.DecodeEnvelope(f); err == nil {
			events = append(events, ev)
		}
	}
	return events
}

// EventNames returns the names of Events in order.
func (c *Conn) EventNames() []string {
	events := c.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

// Pings returns the number of pings written.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Closed reports whether Close or PeerClose ran.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// CloseCode returns the code of the close frame written by the socket, or 0.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// ReadLimit returns the limit set by the socket.
func (c *Conn) ReadLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLimit
}
