// Command kephasgame runs a session server hosting the chat game.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/kephasgame/internal/config"
	"github.com/luciancaetano/kephasgame/internal/games/chat"
	"github.com/luciancaetano/kephasgame/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kephasgame:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("kephasgame", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := ws.New(ws.Config{
		Addr:        cfg.Addr,
		CheckOrigin: ws.AllowOrigins(cfg.AllowedOrigins...),
		Session:     cfg.Session(),
	}, chat.NewFactory(), logger)

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info().
		Str("addr", cfg.Addr).
		Int("max_games", cfg.MaxGames).
		Int("max_players", cfg.MaxPlayersPerGame).
		Msg("kephasgame started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
