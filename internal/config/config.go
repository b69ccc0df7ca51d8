// Package config loads process configuration from the environment and
// builds the logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasgame/internal/session"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

// Config is the process configuration.
type Config struct {
	Addr string `env:"KEPHASGAME_ADDR" envDefault:":8080"`

	MaxGames           int `env:"KEPHASGAME_MAX_GAMES"             envDefault:"100"`
	MaxPlayersPerGame  int `env:"KEPHASGAME_MAX_PLAYERS_PER_GAME"  envDefault:"8"`
	MaxInactiveMinutes int `env:"KEPHASGAME_MAX_INACTIVE_MINUTES"  envDefault:"30"`
	HeartbeatSeconds   int `env:"KEPHASGAME_HEARTBEAT_SECONDS"     envDefault:"30"`
	SweepSeconds       int `env:"KEPHASGAME_SWEEP_SECONDS"         envDefault:"60"`

	RateLimitPerSecond float64 `env:"KEPHASGAME_RATE_LIMIT_PER_SECOND" envDefault:"100"`
	RateLimitBurst     int     `env:"KEPHASGAME_RATE_LIMIT_BURST"      envDefault:"200"`
	RateLimitEnabled   bool    `env:"KEPHASGAME_RATE_LIMIT_ENABLED"    envDefault:"true"`

	// AllowedOrigins restricts upgrade requests by Origin header; empty allows all.
	AllowedOrigins []string `env:"KEPHASGAME_ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"KEPHASGAME_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"KEPHASGAME_LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from environ, or from the process
// environment when environ is nil.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every field below its minimum.
func (c Config) Validate() error {
	var errs []error
	atLeast := func(name string, v, floor int) {
		if v < floor {
			errs = append(errs, fmt.Errorf("%s must be at least %d, got %d", name, floor, v))
		}
	}

	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("KEPHASGAME_ADDR is required"))
	}
	atLeast("KEPHASGAME_MAX_GAMES", c.MaxGames, 1)
	atLeast("KEPHASGAME_MAX_PLAYERS_PER_GAME", c.MaxPlayersPerGame, 1)
	atLeast("KEPHASGAME_MAX_INACTIVE_MINUTES", c.MaxInactiveMinutes, 1)
	atLeast("KEPHASGAME_HEARTBEAT_SECONDS", c.HeartbeatSeconds, 1)
	atLeast("KEPHASGAME_SWEEP_SECONDS", c.SweepSeconds, 0)
	if c.RateLimitEnabled {
		if c.RateLimitPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("KEPHASGAME_RATE_LIMIT_PER_SECOND must be positive, got %g", c.RateLimitPerSecond))
		}
		atLeast("KEPHASGAME_RATE_LIMIT_BURST", c.RateLimitBurst, 1)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("KEPHASGAME_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("KEPHASGAME_LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

// Session returns the registry configuration.
func (c Config) Session() session.Config {
	return session.Config{
		MaxGames:          c.MaxGames,
		MaxPlayers:        c.MaxPlayersPerGame,
		MaxInactive:       time.Duration(c.MaxInactiveMinutes) * time.Minute,
		HeartbeatInterval: time.Duration(c.HeartbeatSeconds) * time.Second,
		SweepInterval:     c.sweepInterval(),
		RateLimit:         c.RateLimit(),
	}
}

// sweepInterval maps KEPHASGAME_SWEEP_SECONDS=0 to a disabled sweep.
func (c Config) sweepInterval() time.Duration {
	if c.SweepSeconds <= 0 {
		return -1
	}
	return time.Duration(c.SweepSeconds) * time.Second
}

// RateLimit returns the per-socket inbound limit.
func (c Config) RateLimit() *websocket.RateLimitConfig {
	if !c.RateLimitEnabled {
		return websocket.NoRateLimit()
	}
	return &websocket.RateLimitConfig{
		MessagesPerSecond: rate.Limit(c.RateLimitPerSecond),
		Burst:             c.RateLimitBurst,
		Enabled:           true,
	}
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	return NewLogger(c.LogLevel, c.LogFormat, w)
}

// NewLogger returns a zerolog logger at level. Format "json" writes raw JSON
// lines; anything else uses the console writer. Unknown levels fall back to info.
func NewLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
