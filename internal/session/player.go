package session

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/secret"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

// Player is a participant of one game. It may hold any number of game
// connections at once; it is active while it holds at least one.
type Player struct {
	id       string
	username string
	secret   string
	game     *Game
	debug    *DebugLogger
	log      zerolog.Logger
	handler  CommandHandler

	mu            sync.Mutex
	sockets       map[string]*websocket.Socket
	inactiveSince time.Time
	// closed is set once the player left or its game ended. A closed player
	// accepts no connections and dispatches no commands.
	closed bool
}

func newPlayer(g *Game, username string) *Player {
	id := uuid.NewString()
	log := g.log.With().Str("player_id", id).Logger()
	return &Player{
		id:            id,
		username:      username,
		secret:        secret.Generate(secret.DefaultLength),
		game:          g,
		debug:         newDebugLogger("player:"+id, log, g.now),
		log:           log,
		sockets:       make(map[string]*websocket.Socket),
		inactiveSince: g.now(),
	}
}

// ID returns the player's unique identifier.
func (p *Player) ID() string { return p.id }

// Username returns the name the player joined with.
func (p *Player) Username() string { return p.username }

// Game returns the game the player belongs to.
func (p *Player) Game() *Game { return p.game }

// Debug returns the player-scope debug logger.
func (p *Player) Debug() *DebugLogger { return p.debug }

// Logger returns the player's logger, tagged with game and player ids.
func (p *Player) Logger() zerolog.Logger { return p.log }

// VerifySecret compares candidate with the player secret in constant time.
func (p *Player) VerifySecret(candidate string) bool {
	return secret.Equal(p.secret, candidate)
}

// AddGameSocket attaches a game connection and greets it with cg_connected.
func (p *Player) AddGameSocket(s *websocket.Socket) error {
	if p.game.isClosed() {
		return notFound("game closed", "gameId", p.game.id)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return notFound("player has left the game", "playerId", p.id)
	}
	p.sockets[s.ID()] = s
	p.inactiveSince = time.Time{}
	n := len(p.sockets)
	p.mu.Unlock()

	_ = s.Send(connectedEvent(p))
	p.debug.Broadcast(SeverityInfo, "game socket connected", map[string]any{
		"socketId": s.ID(),
		"sockets":  n,
	})
	return nil
}

// RemoveGameSocket detaches a game connection. Removing the last one marks
// the player inactive from now. Unknown sockets are ignored.
func (p *Player) RemoveGameSocket(s *websocket.Socket) {
	p.mu.Lock()
	if _, ok := p.sockets[s.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sockets, s.ID())
	n := len(p.sockets)
	if n == 0 {
		p.inactiveSince = p.game.now()
	}
	p.mu.Unlock()

	p.debug.Broadcast(SeverityInfo, "game socket disconnected", map[string]any{
		"socketId": s.ID(),
		"sockets":  n,
	})
}

// Active reports whether the player holds at least one game connection.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets) > 0
}

// InactiveSince is the zero time while the player is active.
func (p *Player) InactiveSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inactiveSince
}

// SocketCount returns the number of game connections.
func (p *Player) SocketCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets)
}

// SendEvent delivers ev to every game connection except the listed ones.
func (p *Player) SendEvent(ev protocol.Event, excludeSocketIDs ...string) {
	for _, s := range p.snapshot(excludeSocketIDs) {
		_ = s.Send(ev)
	}
}

func (p *Player) sendFrom(origin string, ev protocol.Event) {
	for _, s := range p.snapshot(nil) {
		_ = s.SendFrom(origin, ev)
	}
}

// Leave asks the owning game to remove this player. The player is closed and
// its connections are terminated right away; the removal itself runs once the
// current command, if any, has finished.
func (p *Player) Leave() {
	p.close()
	go func() {
		if err := p.game.RemovePlayer(p); err != nil && apperrors.CodeOf(err) != apperrors.CodeNotFound {
			p.log.Error().Err(err).Msg("failed to remove player")
		}
	}()
}

// Terminate closes every game and debug connection of the player.
func (p *Player) Terminate() {
	for _, s := range p.snapshot(nil) {
		s.Terminate()
	}
	p.debug.disconnect()
}

// HandleMessage decodes a command frame and dispatches it to the game logic.
func (p *Player) HandleMessage(s *websocket.Socket, data []byte) {
	if p.isClosed() {
		_ = s.Send(errorEvent(notFound("player has left the game", "playerId", p.id)))
		return
	}

	cmd, err := protocol.Decode(data)
	if err != nil {
		p.log.Warn().Err(err).Str("socket_id", s.ID()).Msg("invalid command frame")
		_ = s.Send(errorEvent(apperrors.Wrap(apperrors.CodeInvalidInput, kephasgame.ErrInvalidMessageFormat, err)))
		p.debug.Broadcast(SeverityWarn, kephasgame.ErrInvalidMessageFormat, map[string]any{"error": err.Error()})
		return
	}

	err = p.game.dispatch(s.Context(), p, cmd)
	switch {
	case err == nil:
	case apperrors.CodeOf(err) == apperrors.CodeUnhandled:
		p.log.Warn().Str("command", cmd.Name).Msg("unhandled command")
		p.debug.Broadcast(SeverityWarn, "unhandled command", map[string]any{"command": cmd.Name})
	default:
		p.log.Debug().Err(err).Str("command", cmd.Name).Msg("command failed")
		_ = s.Send(errorEvent(err))
	}
}

// SocketClosed implements websocket.Owner.
func (p *Player) SocketClosed(s *websocket.Socket) {
	p.RemoveGameSocket(s)
}

// close refuses new connections and commands, then terminates every game
// and debug connection of the player.
func (p *Player) close() {
	p.mu.Lock()
	p.closed = true
	sockets := slices.Collect(maps.Values(p.sockets))
	p.mu.Unlock()

	for _, s := range sockets {
		s.Terminate()
	}
	p.debug.terminate()
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Player) snapshot(exclude []string) []*websocket.Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Collect(maps.Values(p.sockets))
	if len(exclude) == 0 {
		return out
	}
	return slices.DeleteFunc(out, func(s *websocket.Socket) bool {
		return slices.Contains(exclude, s.ID())
	})
}

func (p *Player) summary() kephasgame.PlayerSummary {
	return kephasgame.PlayerSummary{
		ID:       p.id,
		Username: p.username,
		Active:   p.Active(),
	}
}
