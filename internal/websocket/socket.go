package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasgame"
	"github.com/luciancaetano/kephasgame/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	sendBufferSize = 256
)

// ErrClosed is returned by Send once the socket is terminated.
var ErrClosed = errors.New(kephasgame.ErrConnectionClosed)

// Transport is the duplex channel a Socket owns. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Owner is the single entity a socket is attached to: a player, a game (for
// spectators), or a debug scope.
type Owner interface {
	// HandleMessage receives every inbound frame, in order, on the read goroutine.
	HandleMessage(s *Socket, data []byte)
	// SocketClosed is called exactly once when the socket terminates.
	SocketClosed(s *Socket)
}

// Kind tells what a socket was opened for.
type Kind string

const (
	KindGame      Kind = "game"
	KindSpectator Kind = "spectator"
	KindDebug     Kind = "debug"
)

// State is the heartbeat state of a socket.
//
//	ALIVE --tick--> AWAITING_PONG --pong--> ALIVE
//	AWAITING_PONG --tick--> TERMINATED
//	any --close/Terminate--> TERMINATED
type State int32

const (
	StateAlive State = iota
	StateAwaitingPong
	StateTerminated
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateAwaitingPong:
		return "AWAITING_PONG"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Socket.
type Options struct {
	// ID is generated when empty.
	ID         string
	Kind       Kind
	RemoteAddr string
	// HeartbeatInterval <= 0 disables the ping ticker; Heartbeat can still be driven manually.
	HeartbeatInterval time.Duration
	RateLimit         *RateLimitConfig
	Logger            zerolog.Logger
}

// Socket wraps one transport connection with a ping/pong liveness protocol.
type Socket struct {
	id         string
	kind       Kind
	remoteAddr string
	conn       Transport
	owner      Owner
	interval   time.Duration
	limiter    *rate.Limiter
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	mu       sync.Mutex
	state    State
	lastPong time.Time

	started    atomic.Bool
	terminated atomic.Bool
}

// NewSocket binds conn to owner. Ownership is fixed for the socket's lifetime.
// The socket does not read or write until Start is called.
func NewSocket(conn Transport, owner Owner, opts Options) *Socket {
	if owner == nil {
		panic("websocket: socket created without an owner")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		id:         opts.ID,
		kind:       opts.Kind,
		remoteAddr: opts.RemoteAddr,
		conn:       conn,
		owner:      owner,
		interval:   opts.HeartbeatInterval,
		limiter:    opts.RateLimit.limiter(),
		log:        opts.Logger.With().Str("socket_id", opts.ID).Str("kind", string(opts.Kind)).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendBufferSize),
		state:      StateAlive,
		lastPong:   time.Now(),
	}
}

// ID returns the socket's unique identifier.
func (s *Socket) ID() string { return s.id }

// Kind returns what the socket was opened for.
func (s *Socket) Kind() Kind { return s.kind }

// RemoteAddr returns the peer address, if known.
func (s *Socket) RemoteAddr() string { return s.remoteAddr }

// Owner returns the entity the socket is attached to.
func (s *Socket) Owner() Owner { return s.owner }

// Context is cancelled when the socket terminates.
func (s *Socket) Context() context.Context { return s.ctx }

// State returns the current heartbeat state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastPong returns when the last pong arrived (creation time if none yet).
func (s *Socket) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// Start launches the read and write pumps.
func (s *Socket) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.conn.SetReadLimit(protocol.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.Pong()
		return nil
	})
	go s.writePump()
	go s.readPump()
}

// Send queues ev for delivery. Failures are logged and returned, never panicked;
// there is no retry.
func (s *Socket) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		s.log.Warn().Err(err).Str("event", ev.Name).Msg("encode event")
		return fmt.Errorf("%s: %w", kephasgame.ErrFailedToEncode, err)
	}
	return s.enqueue(ev.Name, data)
}

// SendFrom queues ev wrapped as {origin, event}.
func (s *Socket) SendFrom(origin string, ev protocol.Event) error {
	data, err := protocol.EncodeFrom(origin, ev)
	if err != nil {
		s.log.Warn().Err(err).Str("event", ev.Name).Msg("encode event")
		return fmt.Errorf("%s: %w", kephasgame.ErrFailedToEncode, err)
	}
	return s.enqueue(ev.Name, data)
}

func (s *Socket) enqueue(name string, data []byte) error {
	if s.terminated.Load() {
		return ErrClosed
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		s.log.Warn().Str("event", name).Msg("send buffer full, dropping event")
		return errors.New(kephasgame.ErrSendBufferFull)
	}
}

// Heartbeat advances the liveness protocol by one interval: a socket still
// awaiting the previous pong is terminated, otherwise a ping is sent.
func (s *Socket) Heartbeat() {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return
	case StateAwaitingPong:
		s.mu.Unlock()
		s.log.Info().Msg("heartbeat timeout")
		s.CloseWithCode(websocket.CloseGoingAway, "heartbeat timeout")
		return
	}
	s.state = StateAwaitingPong
	s.mu.Unlock()

	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !s.terminated.Load() {
			s.log.Warn().Err(err).Msg("write ping")
		}
		s.Terminate()
	}
}

// Pong records a pong from the peer.
func (s *Socket) Pong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = StateAlive
	s.lastPong = time.Now()
}

// Terminate closes the socket normally. It is idempotent.
func (s *Socket) Terminate() {
	s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode stops the heartbeat, closes the transport with the given close
// code, and notifies the owner. Only the first call has any effect.
func (s *Socket) CloseWithCode(code int, reason string) {
	if !s.terminated.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	s.cancel()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close transport")
	}

	s.log.Debug().Int("code", code).Str("reason", reason).Msg("socket terminated")
	s.owner.SocketClosed(s)
}

func (s *Socket) readPump() {
	defer s.Terminate()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		if !s.allow() {
			s.log.Warn().Str("remote_addr", s.remoteAddr).Msg("rate limit exceeded")
			s.CloseWithCode(websocket.ClosePolicyViolation, kephasgame.ErrRateLimited)
			return
		}

		s.owner.HandleMessage(s, data)
	}
}

func (s *Socket) writePump() {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !s.terminated.Load() {
					s.log.Warn().Err(err).Msg("send failed")
				}
				s.Terminate()
				return
			}

		case <-tick:
			s.Heartbeat()
		}
	}
}
