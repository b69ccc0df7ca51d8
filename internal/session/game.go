package session

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
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

// Game is one session: its players, its spectators, and the game logic
// supplied by a Factory.
type Game struct {
	id          string
	public      bool
	protected   bool
	secret      string
	config      map[string]any
	maxPlayers  int
	maxInactive time.Duration
	createdAt   time.Time
	registry    *Registry
	hooks       GameHooks
	debug       *DebugLogger
	log         zerolog.Logger
	now         func() time.Time

	// logicMu serializes hooks and command handlers.
	logicMu sync.Mutex

	mu         sync.RWMutex
	players    map[string]*Player
	spectators map[string]*websocket.Socket
	joinable   bool
	closed     bool
}

func newGame(r *Registry, opts kephasgame.CreateGameOptions, config map[string]any) *Game {
	id := uuid.NewString()
	log := r.log.With().Str("game_id", id).Logger()
	g := &Game{
		id:          id,
		public:      opts.Public,
		protected:   opts.Protected,
		config:      config,
		maxPlayers:  r.cfg.MaxPlayers,
		maxInactive: r.cfg.MaxInactive,
		createdAt:   r.now(),
		registry:    r,
		debug:       newDebugLogger("game:"+id, log, r.now),
		log:         log,
		now:         r.now,
		players:     make(map[string]*Player),
		spectators:  make(map[string]*websocket.Socket),
		joinable:    true,
	}
	if opts.Protected {
		g.secret = secret.Generate(secret.DefaultLength)
	}
	g.hooks = r.factory.NewGame(g)
	if g.hooks == nil {
		g.hooks = NopHooks{}
	}
	return g
}

// ID returns the game's unique identifier.
func (g *Game) ID() string { return g.id }

// Public reports whether the game is listed by ListGames.
func (g *Game) Public() bool { return g.public }

// Protected reports whether joining requires the game secret.
func (g *Game) Protected() bool { return g.protected }

// MaxPlayers returns the player capacity of the game.
func (g *Game) MaxPlayers() int { return g.maxPlayers }

// CreatedAt returns the time the game was created.
func (g *Game) CreatedAt() time.Time { return g.createdAt }

// Debug returns the game-scope debug logger.
func (g *Game) Debug() *DebugLogger { return g.debug }

// Logger returns the game's logger, tagged with its id.
func (g *Game) Logger() zerolog.Logger { return g.log }

// Config returns the normalized configuration. It must not be modified.
func (g *Game) Config() map[string]any { return g.config }

// VerifySecret checks a join secret. Unprotected games accept any candidate.
func (g *Game) VerifySecret(candidate string) bool {
	if !g.protected {
		return true
	}
	return secret.Equal(g.secret, candidate)
}

// AddPlayer creates and registers a player, announces it to the other
// players with cg_player_joined, and runs the PlayerJoined hook.
func (g *Game) AddPlayer(username string) (*Player, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "username is required")
	}

	g.logicMu.Lock()
	defer g.logicMu.Unlock()

	if err := g.checkCapacity(); err != nil {
		return nil, err
	}

	p := newPlayer(g, username)
	p.handler = g.hooks.NewPlayer(p)
	if p.handler == nil {
		p.handler = unhandled{}
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, notFound("game closed", "gameId", g.id)
	}
	g.players[p.id] = p
	count := len(g.players)
	g.mu.Unlock()

	g.BroadcastEvent(playerJoinedEvent(p), p.id)
	g.hooks.PlayerJoined(p)

	g.log.Info().Str("player_id", p.id).Str("username", username).Int("players", count).Msg("player joined")
	g.debug.Broadcast(SeverityInfo, "player joined", map[string]any{
		"playerId": p.id,
		"username": username,
		"players":  count,
	})
	return p, nil
}

func (g *Game) checkCapacity() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return notFound("game closed", "gameId", g.id)
	}
	if len(g.players) >= g.maxPlayers {
		return apperrors.WithMetadata(apperrors.CodeCapacityExceeded, "game is full", map[string]string{
			"gameId":     g.id,
			"maxPlayers": strconv.Itoa(g.maxPlayers),
		})
	}
	return nil
}

// RemovePlayer runs the PlayerLeft hook, deregisters p, and announces
// cg_player_left. The caller terminates or instructs p's connections.
func (g *Game) RemovePlayer(p *Player) error {
	g.logicMu.Lock()
	defer g.logicMu.Unlock()

	g.mu.RLock()
	_, ok := g.players[p.id]
	g.mu.RUnlock()
	if !ok {
		return notFound("player not found", "playerId", p.id)
	}

	g.hooks.PlayerLeft(p)

	g.mu.Lock()
	delete(g.players, p.id)
	count := len(g.players)
	g.mu.Unlock()
	p.close()

	g.BroadcastEvent(playerLeftEvent(p))

	g.log.Info().Str("player_id", p.id).Int("players", count).Msg("player left")
	g.debug.Broadcast(SeverityInfo, "player left", map[string]any{
		"playerId": p.id,
		"players":  count,
	})
	return nil
}

// Player looks up a player by id.
func (g *Game) Player(id string) (*Player, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.players[id]
	if !ok {
		return nil, notFound("player not found", "playerId", id)
	}
	return p, nil
}

// Players returns a snapshot of the registered players.
func (g *Game) Players() []*Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Collect(maps.Values(g.players))
}

// PlayerCount returns the number of registered players.
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players)
}

// SpectatorCount returns the number of spectator connections.
func (g *Game) SpectatorCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.spectators)
}

// AddSpectator attaches a read-only connection that receives broadcasts.
func (g *Game) AddSpectator(s *websocket.Socket) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return notFound("game closed", "gameId", g.id)
	}
	g.spectators[s.ID()] = s
	n := len(g.spectators)
	g.mu.Unlock()

	g.debug.Broadcast(SeverityInfo, "spectator connected", map[string]any{
		"socketId":   s.ID(),
		"spectators": n,
	})
	return nil
}

// RemoveSpectator detaches a spectator connection. Unknown sockets are ignored.
func (g *Game) RemoveSpectator(s *websocket.Socket) {
	g.mu.Lock()
	_, ok := g.spectators[s.ID()]
	delete(g.spectators, s.ID())
	n := len(g.spectators)
	g.mu.Unlock()

	if ok {
		g.debug.Broadcast(SeverityInfo, "spectator disconnected", map[string]any{
			"socketId":   s.ID(),
			"spectators": n,
		})
	}
}

// BroadcastEvent sends ev to every player not excluded and to every spectator.
func (g *Game) BroadcastEvent(ev protocol.Event, excludePlayerIDs ...string) {
	players, spectators := g.recipients(excludePlayerIDs)
	for _, p := range players {
		p.SendEvent(ev)
	}
	for _, s := range spectators {
		_ = s.Send(ev)
	}
}

// BroadcastFrom is BroadcastEvent with every frame wrapped in an envelope
// naming origin, typically the id of the player that caused it.
func (g *Game) BroadcastFrom(origin string, ev protocol.Event, excludePlayerIDs ...string) {
	players, spectators := g.recipients(excludePlayerIDs)
	for _, p := range players {
		p.sendFrom(origin, ev)
	}
	for _, s := range spectators {
		_ = s.SendFrom(origin, ev)
	}
}

func (g *Game) recipients(exclude []string) ([]*Player, []*websocket.Socket) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	players := make([]*Player, 0, len(g.players))
	for id, p := range g.players {
		if !slices.Contains(exclude, id) {
			players = append(players, p)
		}
	}
	return players, slices.Collect(maps.Values(g.spectators))
}

// Full reports whether the game is at its player capacity.
func (g *Game) Full() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players) >= g.maxPlayers
}

// Joinable reports whether new players may be added through the directory.
func (g *Game) Joinable() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.joinable
}

// AllowJoining lets new players join.
func (g *Game) AllowJoining() { g.setJoinable(true) }

// DisallowJoining stops new players from joining. Existing players stay.
func (g *Game) DisallowJoining() { g.setJoinable(false) }

func (g *Game) setJoinable(v bool) {
	g.mu.Lock()
	changed := g.joinable != v
	g.joinable = v
	g.mu.Unlock()
	if changed {
		g.debug.Broadcast(SeverityInfo, "joining changed", map[string]any{"joinable": v})
	}
}

// Active reports whether the game should be kept: some player is active or
// went inactive within the inactivity window. A game without players is
// active for one window after its creation.
func (g *Game) Active() bool {
	now := g.now()
	players := g.Players()
	if len(players) == 0 {
		return now.Sub(g.createdAt) <= g.maxInactive
	}
	for _, p := range players {
		if p.Active() || now.Sub(p.InactiveSince()) <= g.maxInactive {
			return true
		}
	}
	return false
}

// ReapStalePlayers terminates the remaining connections of players that have
// been inactive for longer than the window and returns their ids. Players
// stay registered.
func (g *Game) ReapStalePlayers() []string {
	now := g.now()
	var reaped []string
	for _, p := range g.Players() {
		if p.Active() || now.Sub(p.InactiveSince()) <= g.maxInactive {
			continue
		}
		if p.SocketCount()+p.debug.Count() == 0 {
			continue
		}
		p.Terminate()
		reaped = append(reaped, p.id)
	}
	return reaped
}

// Close removes the game from its registry and terminates it.
func (g *Game) Close() {
	g.registry.remove(g)
	g.Terminate()
}

// Terminate closes every player, spectator, and debug connection of the game
// and refuses new ones. Players stay registered but are closed.
func (g *Game) Terminate() {
	g.mu.Lock()
	g.closed = true
	g.joinable = false
	g.mu.Unlock()

	players, spectators := g.recipients(nil)
	for _, p := range players {
		p.close()
	}
	for _, s := range spectators {
		s.Terminate()
	}
	g.debug.terminate()
	g.log.Info().Msg("game terminated")
}

// HandleMessage rejects commands from spectator connections.
func (g *Game) HandleMessage(s *websocket.Socket, _ []byte) {
	_ = s.Send(readOnlyEvent())
}

// SocketClosed implements websocket.Owner.
func (g *Game) SocketClosed(s *websocket.Socket) {
	g.RemoveSpectator(s)
}

func (g *Game) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func (g *Game) dispatch(ctx context.Context, p *Player, cmd protocol.Event) error {
	g.logicMu.Lock()
	defer g.logicMu.Unlock()
	return p.handler.HandleCommand(ctx, cmd)
}

func (g *Game) summary() kephasgame.GameSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return kephasgame.GameSummary{
		ID:         g.id,
		Public:     g.public,
		Protected:  g.protected,
		Players:    len(g.players),
		MaxPlayers: g.maxPlayers,
		Spectators: len(g.spectators),
		Joinable:   g.joinable,
		Full:       len(g.players) >= g.maxPlayers,
		Config:     g.config,
	}
}
