// Package server is the HTTP surface of the session layer: connection
// upgrades for players, spectators, and debug observers, plus the JSON
// management API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasgame"
	"github.com/luciancaetano/kephasgame/internal/session"
)

// CheckOriginFn validates the Origin of an upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// Config configures the HTTP server.
type Config struct {
	Addr string
	// CheckOrigin defaults to AllowOrigins(nil), which accepts every origin.
	CheckOrigin CheckOriginFn
}

// Server serves upgrades and the management API on top of a Registry.
type Server struct {
	addr     string
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
}

var _ kephasgame.Server = (*Server)(nil)

// New creates a server. The server owns registry: Stop stops it.
func New(cfg Config, registry *session.Registry, log zerolog.Logger) *Server {
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = AllowOrigins(nil)
	}
	s := &Server{
		addr:     cfg.Addr,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	s.router = s.routes()
	return s
}

// AllowOrigins accepts requests whose Origin header matches one of allowed,
// ignoring case. An empty list accepts every origin, and requests without an
// Origin header (non-browser clients) are always accepted.
func AllowOrigins(allowed []string) CheckOriginFn {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(a), origin) {
				return true
			}
		}
		return false
	}
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Directory exposes the management operations.
func (s *Server) Directory() kephasgame.Directory { return s.registry }

// Registry returns the underlying registry.
func (s *Server) Registry() *session.Registry { return s.registry }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api/games", func(r chi.Router) {
		r.Get("/", s.listGames)
		r.Post("/", s.createGame)
		r.Route("/{gameId}", func(r chi.Router) {
			r.Get("/", s.gameSummary)
			r.Delete("/", s.closeGame)
			r.Get("/players", s.listPlayers)
			r.Post("/players", s.addPlayer)
			r.Get("/players/{playerId}", s.playerUsername)
		})
	})

	r.Get("/server-debug", s.upgrade)
	r.Get("/games/{gameId}/spectate", s.upgrade)
	r.Get("/games/{gameId}/debug", s.upgrade)
	r.Get("/games/{gameId}/players/{playerId}/connect", s.upgrade)
	r.Get("/games/{gameId}/players/{playerId}/debug", s.upgrade)

	return r
}

// Start starts listening. It returns nil once the listener has been up for a
// short while, or the bind error. Cancelling ctx before then stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(kephasgame.ErrServerAlreadyRunning)
	}
	s.running = true
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.log.Error().Err(err).Str("addr", s.addr).Msg("server failed to start")
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info().Str("addr", s.addr).Msg("server listening")
		return nil
	}
}

// Stop shuts the HTTP server down, then terminates every game and
// connection. Upgraded connections are not tracked by http.Server, so the
// registry closes them.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	wasRunning := s.running
	s.running = false
	s.httpServer = nil
	s.mu.Unlock()

	var err error
	if wasRunning && srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.registry.Stop()
	if wasRunning {
		s.log.Info().Msg("server stopped")
	}
	return err
}

// upgrade resolves the target before switching protocols so that unknown
// games, unknown players, and bad secrets are answered with a plain HTTP
// error and no connection is attached.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.ResolveUpgrade(r.URL.Path, r.URL.Query())
	if err != nil {
		s.log.Info().Err(err).Str("path", r.URL.Path).Msg("upgrade rejected")
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
		return
	}

	sock, err := s.registry.Connect(conn, target, r.RemoteAddr)
	if err != nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("attach failed")
		return
	}
	s.log.Debug().
		Str("socket_id", sock.ID()).
		Str("kind", string(sock.Kind())).
		Str("remote_addr", r.RemoteAddr).
		Msg("socket attached")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
