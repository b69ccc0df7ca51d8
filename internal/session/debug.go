package session

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasgame"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

// Severity grades a debug record.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

func (s Severity) level() zerolog.Level {
	switch s {
	case SeverityDebug:
		return zerolog.DebugLevel
	case SeverityWarn:
		return zerolog.WarnLevel
	case SeverityError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// DebugRecord is the payload of a cg_debug event.
type DebugRecord struct {
	Scope    string   `json:"scope"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Data     any      `json:"data,omitempty"`
	Time     string   `json:"time"`
}

// DebugLogger fans diagnostic records out to the debug sockets of one scope
// (the server, a game, or a player) and mirrors them to the process log.
// Debug sockets are read-only.
type DebugLogger struct {
	scope string
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.RWMutex
	sockets map[string]*websocket.Socket
	closed  bool
}

func newDebugLogger(scope string, log zerolog.Logger, now func() time.Time) *DebugLogger {
	return &DebugLogger{
		scope:   scope,
		log:     log,
		now:     now,
		sockets: make(map[string]*websocket.Socket),
	}
}

// Scope returns the scope name, e.g. "server" or "game:<id>".
func (d *DebugLogger) Scope() string { return d.scope }

// AddDebugSocket subscribes s to this scope.
func (d *DebugLogger) AddDebugSocket(s *websocket.Socket) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return notFound("debug scope closed", "scope", d.scope)
	}
	d.sockets[s.ID()] = s
	n := len(d.sockets)
	d.mu.Unlock()

	d.log.Debug().Str("socket_id", s.ID()).Int("debug_sockets", n).Msg("debug socket attached")
	return nil
}

// RemoveDebugSocket unsubscribes s. Unknown sockets are ignored.
func (d *DebugLogger) RemoveDebugSocket(s *websocket.Socket) {
	d.mu.Lock()
	_, ok := d.sockets[s.ID()]
	delete(d.sockets, s.ID())
	d.mu.Unlock()

	if ok {
		d.log.Debug().Str("socket_id", s.ID()).Msg("debug socket detached")
	}
}

// Count returns the number of subscribed sockets.
func (d *DebugLogger) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sockets)
}

// Broadcast logs a record and delivers it to every subscribed socket.
func (d *DebugLogger) Broadcast(severity Severity, message string, data any) {
	d.log.WithLevel(severity.level()).Str("scope", d.scope).Interface("data", data).Msg(message)

	sockets := d.snapshot()
	if len(sockets) == 0 {
		return
	}
	ev := protocol.Event{
		Name: kephasgame.EventDebug,
		Data: DebugRecord{
			Scope:    d.scope,
			Severity: severity,
			Message:  message,
			Data:     data,
			Time:     d.now().UTC().Format(time.RFC3339Nano),
		},
	}
	for _, s := range sockets {
		// Send failures terminate the socket on their own.
		_ = s.Send(ev)
	}
}

// HandleMessage rejects anything sent on a debug socket.
func (d *DebugLogger) HandleMessage(s *websocket.Socket, _ []byte) {
	_ = s.Send(readOnlyEvent())
}

// SocketClosed implements websocket.Owner.
func (d *DebugLogger) SocketClosed(s *websocket.Socket) {
	d.RemoveDebugSocket(s)
}

func (d *DebugLogger) snapshot() []*websocket.Socket {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Collect(maps.Values(d.sockets))
}

// disconnect closes every debug socket.
func (d *DebugLogger) disconnect() {
	for _, s := range d.snapshot() {
		s.Terminate()
	}
}

// terminate closes every debug socket and refuses new ones.
func (d *DebugLogger) terminate() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.disconnect()
}
