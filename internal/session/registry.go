package session

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/websocket"
)

// Registry owns every game of the server. It implements kephasgame.Directory.
type Registry struct {
	cfg     Config
	factory Factory
	log     zerolog.Logger
	now     func() time.Time
	debug   *DebugLogger

	mu      sync.RWMutex
	public  map[string]*Game
	private map[string]*Game
	// pending counts games being built; they hold a slot until inserted.
	pending int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ kephasgame.Directory = (*Registry)(nil)

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for inactivity bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry and starts its periodic sweep unless
// cfg.SweepInterval is negative. Call Stop to release it.
func NewRegistry(cfg Config, factory Factory, log zerolog.Logger, opts ...Option) *Registry {
	if factory == nil {
		panic("session: registry created without a factory")
	}
	r := &Registry{
		cfg:     cfg.withDefaults(),
		factory: factory,
		log:     log,
		now:     time.Now,
		public:  make(map[string]*Game),
		private: make(map[string]*Game),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.debug = newDebugLogger("server", log, r.now)

	if r.cfg.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop()
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Debug returns the server-scope debug logger.
func (r *Registry) Debug() *DebugLogger { return r.debug }

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopCh:
			return
		}
	}
}

// Stop ends the periodic sweep and terminates every game.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		r.mu.Lock()
		games := r.allLocked()
		clear(r.public)
		clear(r.private)
		r.mu.Unlock()

		for _, g := range games {
			g.Terminate()
		}
		r.debug.terminate()
		r.log.Info().Int("games", len(games)).Msg("registry stopped")
	})
}

// CreateGame sweeps inactive games, reserves a slot, normalizes the requested
// configuration, and registers a new game. Protected games get a join secret.
func (r *Registry) CreateGame(opts kephasgame.CreateGameOptions) (kephasgame.CreatedGame, error) {
	r.Sweep()

	if err := r.reserve(); err != nil {
		return kephasgame.CreatedGame{}, err
	}

	config, err := r.factory.NormalizeConfig(opts.Config)
	if err != nil {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		return kephasgame.CreatedGame{}, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid game config: "+err.Error(), err)
	}
	g := newGame(r, opts, config)

	r.mu.Lock()
	r.pending--
	if g.public {
		r.public[g.id] = g
	} else {
		r.private[g.id] = g
	}
	total := len(r.public) + len(r.private)
	r.mu.Unlock()

	r.log.Info().
		Str("game_id", g.id).
		Bool("public", g.public).
		Bool("protected", g.protected).
		Int("games", total).
		Msg("game created")
	r.debug.Broadcast(SeverityInfo, "game created", map[string]any{
		"gameId":    g.id,
		"public":    g.public,
		"protected": g.protected,
		"games":     total,
	})

	return kephasgame.CreatedGame{GameID: g.id, JoinSecret: g.secret}, nil
}

func (r *Registry) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.public)+len(r.private)+r.pending >= r.cfg.MaxGames {
		return apperrors.WithMetadata(apperrors.CodeCapacityExceeded, "too many games", map[string]string{
			"maxGames": strconv.Itoa(r.cfg.MaxGames),
		})
	}
	r.pending++
	return nil
}

// Game looks a game up in the public map, then the private one.
func (r *Registry) Game(id string) (*Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.public[id]; ok {
		return g, nil
	}
	if g, ok := r.private[id]; ok {
		return g, nil
	}
	return nil, notFound("game not found", "gameId", id)
}

// GameCount returns the number of registered games.
func (r *Registry) GameCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.public) + len(r.private)
}

// Sweep removes and terminates every inactive game and drops the stale
// connections of inactive players in the games it keeps. It returns the ids
// of the removed games.
func (r *Registry) Sweep() []string {
	r.mu.RLock()
	games := r.allLocked()
	r.mu.RUnlock()

	var removed []string
	for _, g := range games {
		if g.Active() {
			if reaped := g.ReapStalePlayers(); len(reaped) > 0 {
				g.log.Debug().Strs("player_ids", reaped).Msg("stale player connections closed")
			}
			continue
		}
		if r.remove(g) {
			g.Terminate()
			removed = append(removed, g.id)
		}
	}

	if len(removed) > 0 {
		r.log.Info().Strs("game_ids", removed).Msg("inactive games removed")
		r.debug.Broadcast(SeverityInfo, "inactive games removed", map[string]any{"gameIds": removed})
	}
	return removed
}

// CloseGame removes and terminates a game.
func (r *Registry) CloseGame(gameID string) error {
	g, err := r.Game(gameID)
	if err != nil {
		return err
	}
	if !r.remove(g) {
		return notFound("game not found", "gameId", gameID)
	}
	g.Terminate()

	r.log.Info().Str("game_id", gameID).Msg("game closed")
	r.debug.Broadcast(SeverityInfo, "game closed", map[string]any{"gameId": gameID})
	return nil
}

// remove deregisters g if it is still registered.
func (r *Registry) remove(g *Game) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.private
	if g.public {
		m = r.public
	}
	if m[g.id] != g {
		return false
	}
	delete(m, g.id)
	return true
}

func (r *Registry) allLocked() []*Game {
	games := make([]*Game, 0, len(r.public)+len(r.private))
	for _, g := range r.public {
		games = append(games, g)
	}
	for _, g := range r.private {
		games = append(games, g)
	}
	return games
}

// ListGames returns the counts of public and private games and a listing of
// the public ones, oldest first.
func (r *Registry) ListGames() kephasgame.GameList {
	r.mu.RLock()
	list := kephasgame.GameList{
		PublicCount:  len(r.public),
		PrivateCount: len(r.private),
		MaxGames:     r.cfg.MaxGames,
	}
	public := make([]*Game, 0, len(r.public))
	for _, g := range r.public {
		public = append(public, g)
	}
	r.mu.RUnlock()

	slices.SortFunc(public, func(a, b *Game) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	list.Games = make([]kephasgame.GameListing, 0, len(public))
	for _, g := range public {
		list.Games = append(list.Games, kephasgame.GameListing{
			ID:         g.id,
			Players:    g.PlayerCount(),
			MaxPlayers: g.maxPlayers,
			Protected:  g.protected,
		})
	}
	return list
}

// GameSummary describes one game.
func (r *Registry) GameSummary(gameID string) (kephasgame.GameSummary, error) {
	g, err := r.Game(gameID)
	if err != nil {
		return kephasgame.GameSummary{}, err
	}
	return g.summary(), nil
}

// Players lists the players of a game ordered by username.
func (r *Registry) Players(gameID string) ([]kephasgame.PlayerSummary, error) {
	g, err := r.Game(gameID)
	if err != nil {
		return nil, err
	}
	players := g.Players()
	out := make([]kephasgame.PlayerSummary, 0, len(players))
	for _, p := range players {
		out = append(out, p.summary())
	}
	slices.SortFunc(out, func(a, b kephasgame.PlayerSummary) int {
		if c := cmp.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// AddPlayer joins a new player to a game after checking the join secret of
// protected games and whether the game accepts players.
func (r *Registry) AddPlayer(gameID, username, joinSecret string) (kephasgame.JoinedPlayer, error) {
	g, err := r.Game(gameID)
	if err != nil {
		return kephasgame.JoinedPlayer{}, err
	}
	if !g.VerifySecret(joinSecret) {
		return kephasgame.JoinedPlayer{}, apperrors.New(apperrors.CodeUnauthorized, "invalid join secret")
	}
	if !g.Joinable() {
		return kephasgame.JoinedPlayer{}, apperrors.New(apperrors.CodeJoinDisallowed, "game is not accepting players")
	}
	p, err := g.AddPlayer(username)
	if err != nil {
		return kephasgame.JoinedPlayer{}, err
	}
	return kephasgame.JoinedPlayer{PlayerID: p.id, PlayerSecret: p.secret}, nil
}

// PlayerUsername returns the username of a player.
func (r *Registry) PlayerUsername(gameID, playerID string) (string, error) {
	g, err := r.Game(gameID)
	if err != nil {
		return "", err
	}
	p, err := g.Player(playerID)
	if err != nil {
		return "", err
	}
	return p.username, nil
}

// Attachment is a resolved upgrade target: the owner a new socket binds to.
type Attachment struct {
	Route  Route
	Kind   websocket.Kind
	Owner  websocket.Owner
	attach func(*websocket.Socket) error
}

// ResolveUpgrade parses and resolves an upgrade request before the
// protocol switch, so failures can be answered with a plain HTTP error.
func (r *Registry) ResolveUpgrade(path string, query url.Values) (*Attachment, error) {
	route, err := ParseRoute(path, query)
	if err != nil {
		return nil, err
	}
	return r.Resolve(route)
}

// Resolve looks up the owner of route and verifies player secrets.
func (r *Registry) Resolve(route Route) (*Attachment, error) {
	if route.Kind == RouteServerDebug {
		return &Attachment{Route: route, Kind: websocket.KindDebug, Owner: r.debug, attach: r.debug.AddDebugSocket}, nil
	}

	g, err := r.Game(route.GameID)
	if err != nil {
		return nil, err
	}

	switch route.Kind {
	case RouteSpectate:
		return &Attachment{Route: route, Kind: websocket.KindSpectator, Owner: g, attach: g.AddSpectator}, nil
	case RouteGameDebug:
		return &Attachment{Route: route, Kind: websocket.KindDebug, Owner: g.debug, attach: g.debug.AddDebugSocket}, nil
	case RouteConnect, RoutePlayerDebug:
	default:
		return nil, apperrors.New(apperrors.CodeInvalidInput, "unknown route kind: "+string(route.Kind))
	}

	p, err := g.Player(route.PlayerID)
	if err != nil {
		return nil, err
	}
	if !p.VerifySecret(route.Secret) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "invalid player secret")
	}
	if route.Kind == RouteConnect {
		return &Attachment{Route: route, Kind: websocket.KindGame, Owner: p, attach: p.AddGameSocket}, nil
	}
	return &Attachment{Route: route, Kind: websocket.KindDebug, Owner: p.debug, attach: p.debug.AddDebugSocket}, nil
}

// Connect wraps conn in a socket bound to a's owner, attaches it, and starts
// it. When attaching fails the socket is closed and the error returned.
func (r *Registry) Connect(conn websocket.Transport, a *Attachment, remoteAddr string) (*websocket.Socket, error) {
	s := websocket.NewSocket(conn, a.Owner, websocket.Options{
		Kind:              a.Kind,
		RemoteAddr:        remoteAddr,
		HeartbeatInterval: r.cfg.HeartbeatInterval,
		RateLimit:         r.cfg.RateLimit,
		Logger: r.log.With().
			Str("route", string(a.Route.Kind)).
			Str("game_id", a.Route.GameID).
			Str("player_id", a.Route.PlayerID).
			Logger(),
	})
	if err := a.attach(s); err != nil {
		s.Terminate()
		return nil, err
	}
	s.Start()
	return s, nil
}
