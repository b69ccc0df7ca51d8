// Package ws builds a ready-to-run game server from a Factory.
package ws

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasgame"
	"github.com/luciancaetano/kephasgame/internal/server"
	"github.com/luciancaetano/kephasgame/internal/session"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

type (
	RateLimitConfig    = websocket.RateLimitConfig
	CheckOriginFn      = server.CheckOriginFn
	SessionConfig      = session.Config
	Factory            = session.Factory
	GameHooks          = session.GameHooks
	CommandHandler     = session.CommandHandler
	CommandHandlerFunc = session.CommandHandlerFunc
	NopHooks           = session.NopHooks
	Game               = session.Game
	Player             = session.Player
)

// Config configures New.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// CheckOrigin validates upgrade origins. Nil allows every origin.
	CheckOrigin CheckOriginFn
	// Session bounds games and players and sets the heartbeat and sweep
	// intervals. Zero fields take the values of DefaultSessionConfig; a
	// negative SweepInterval disables the periodic sweep.
	Session SessionConfig
}

// New creates a server whose games are built by factory.
//
// Example:
//
//	server := ws.New(ws.Config{Addr: ":8080", CheckOrigin: ws.AllOrigins()}, chat.NewFactory(), logger)
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
func New(cfg Config, factory Factory, log zerolog.Logger) kephasgame.Server {
	registry := session.NewRegistry(cfg.Session, factory, log)
	return server.New(server.Config{Addr: cfg.Addr, CheckOrigin: cfg.CheckOrigin}, registry, log)
}

// DefaultSessionConfig returns the session limits used for zero fields.
func DefaultSessionConfig() SessionConfig {
	return session.DefaultConfig()
}

// AllOrigins returns a checkOrigin function that allows every origin.
func AllOrigins() CheckOriginFn {
	return func(*http.Request) bool {
		return true
	}
}

// AllowOrigins returns a checkOrigin function accepting the listed origins.
func AllowOrigins(origins ...string) CheckOriginFn {
	return server.AllowOrigins(origins)
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
