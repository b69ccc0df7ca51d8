package kephasgame

import "context"

// Server is the process-level surface: an HTTP server that accepts connection
// upgrades and serves the management API on top of a Directory.
//
// Example usage:
//
//	cfg := ws.Config{Addr: ":8080", Session: ws.SessionConfig{MaxGames: 100, MaxPlayers: 4}}
//	server := ws.New(cfg, chat.NewFactory(), logger)
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
type Server interface {
	// Start starts listening. It returns once the listener is up, or with the
	// bind error. Cancelling ctx stops the server.
	Start(ctx context.Context) error

	// Stop shuts the HTTP server down and terminates every game, player, and
	// connection.
	Stop(ctx context.Context) error

	// Directory exposes the management operations.
	Directory() Directory
}

// Directory is the set of management operations the session layer exposes to
// the HTTP API. Failures are *errors.Error values from internal/errors, whose
// Code tells NotFound, Unauthorized, CapacityExceeded, JoinDisallowed, and
// InvalidInput apart.
type Directory interface {
	// ListGames returns game counts and a listing of public games.
	ListGames() GameList

	// CreateGame sweeps inactive games, then creates a new one. The join
	// secret is only set for protected games.
	CreateGame(opts CreateGameOptions) (CreatedGame, error)

	// GameSummary describes one game.
	GameSummary(gameID string) (GameSummary, error)

	// CloseGame terminates and removes a game.
	CloseGame(gameID string) error

	// Players lists the players of a game.
	Players(gameID string) ([]PlayerSummary, error)

	// AddPlayer joins a new player to a game. joinSecret is checked for
	// protected games only.
	AddPlayer(gameID, username, joinSecret string) (JoinedPlayer, error)

	// PlayerUsername returns a player's username.
	PlayerUsername(gameID, playerID string) (string, error)
}

// CreateGameOptions selects visibility, protection, and the game-specific
// configuration, which is normalized once by the game factory.
type CreateGameOptions struct {
	Public    bool           `json:"public"`
	Protected bool           `json:"protected"`
	Config    map[string]any `json:"config,omitempty"`
}

// CreatedGame is returned by CreateGame.
type CreatedGame struct {
	GameID     string `json:"gameId"`
	JoinSecret string `json:"joinSecret,omitempty"`
}

// JoinedPlayer is returned by AddPlayer. The secret authorizes connect and
// player-debug upgrades for this player.
type JoinedPlayer struct {
	PlayerID     string `json:"playerId"`
	PlayerSecret string `json:"playerSecret"`
}

// GameList is the result of ListGames.
type GameList struct {
	PublicCount  int           `json:"publicCount"`
	PrivateCount int           `json:"privateCount"`
	MaxGames     int           `json:"maxGames"`
	Games        []GameListing `json:"games"`
}

// GameListing is one public game in a GameList.
type GameListing struct {
	ID         string `json:"id"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Protected  bool   `json:"protected"`
}

// GameSummary describes a single game.
type GameSummary struct {
	ID         string         `json:"id"`
	Public     bool           `json:"public"`
	Protected  bool           `json:"protected"`
	Players    int            `json:"players"`
	MaxPlayers int            `json:"maxPlayers"`
	Spectators int            `json:"spectators"`
	Joinable   bool           `json:"joinable"`
	Full       bool           `json:"full"`
	Config     map[string]any `json:"config,omitempty"`
}

// PlayerSummary describes one player of a game.
type PlayerSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}
