// Package session implements the game session lifecycle: the registry of
// games, the players and spectators attached to each game, and the debug
// fan-out at server, game, and player scope.
//
// Locks are taken in the order Registry → Game → Player → DebugLogger, and no
// socket is terminated while one of them is held: termination calls back into
// the socket's owner.
package session

import (
	"context"
	"time"

	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

// Config is the explicit configuration of a Registry. Zero fields take the
// values of DefaultConfig.
type Config struct {
	// MaxGames bounds public plus private games.
	MaxGames int
	// MaxPlayers bounds the players of each game. Negative values mean 1.
	MaxPlayers int
	// MaxInactive is how long a game may go without an active player before
	// the sweep reclaims it.
	MaxInactive time.Duration
	// HeartbeatInterval is the ping period of every socket.
	HeartbeatInterval time.Duration
	// SweepInterval runs the inactivity sweep periodically. A negative
	// interval disables it; the sweep still runs on every CreateGame.
	SweepInterval time.Duration
	// RateLimit applies to inbound frames on every socket. Use
	// websocket.NoRateLimit to disable it.
	RateLimit *websocket.RateLimitConfig
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		MaxGames:          100,
		MaxPlayers:        8,
		MaxInactive:       30 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		SweepInterval:     time.Minute,
		RateLimit:         websocket.DefaultRateLimitConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxGames < 1 {
		c.MaxGames = d.MaxGames
	}
	switch {
	case c.MaxPlayers == 0:
		c.MaxPlayers = d.MaxPlayers
	case c.MaxPlayers < 0:
		c.MaxPlayers = 1
	}
	if c.MaxInactive <= 0 {
		c.MaxInactive = d.MaxInactive
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RateLimit == nil {
		c.RateLimit = d.RateLimit
	}
	return c
}

// Factory supplies the game-specific parts of a session.
type Factory interface {
	// NormalizeConfig validates the configuration requested for a new game
	// and returns its normalized form. It runs once per game; the result is
	// immutable afterwards.
	NormalizeConfig(raw map[string]any) (map[string]any, error)

	// NewGame returns the hooks of a newly constructed game.
	NewGame(g *Game) GameHooks
}

// GameHooks is the game logic attached to one game.
//
// Hooks and command handlers of a game run one at a time. They may broadcast,
// toggle joining, and close the game, but must not call Game.AddPlayer or
// Game.RemovePlayer; use Player.Leave to remove a player.
type GameHooks interface {
	// NewPlayer returns the command handler for a player being added.
	NewPlayer(p *Player) CommandHandler
	// PlayerJoined runs after p is registered and announced.
	PlayerJoined(p *Player)
	// PlayerLeft runs before p is deregistered.
	PlayerLeft(p *Player)
}

// CommandHandler dispatches commands sent on a player's game connections.
// Returning an error with code UNHANDLED marks the command as unrecognised;
// any other error is reported to the sending connection.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd protocol.Event) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd protocol.Event) error

// HandleCommand calls f.
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd protocol.Event) error {
	return f(ctx, cmd)
}

// NopHooks can be embedded by game logic that only needs some hooks. Its
// players report every command as unhandled.
type NopHooks struct{}

// NewPlayer returns a handler that rejects every command as unhandled.
func (NopHooks) NewPlayer(*Player) CommandHandler { return unhandled{} }

// PlayerJoined does nothing.
func (NopHooks) PlayerJoined(*Player) {}

// PlayerLeft does nothing.
func (NopHooks) PlayerLeft(*Player) {}

type unhandled struct{}

func (unhandled) HandleCommand(_ context.Context, cmd protocol.Event) error {
	return unhandledCommand(cmd.Name)
}
