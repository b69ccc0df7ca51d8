package kephasgame

// Reserved event names. Game logic must not reuse the cg_ prefix.
const (
	// EventConnected confirms a game connection was attached to its player.
	EventConnected = "cg_connected"
	// EventPlayerJoined is broadcast when a player is added to a game.
	EventPlayerJoined = "cg_player_joined"
	// EventPlayerLeft is broadcast when a player is removed from a game.
	EventPlayerLeft = "cg_player_left"
	// EventError rejects malformed input or reports a failed command.
	EventError = "cg_error"
	// EventDebug carries a record to debug observers.
	EventDebug = "cg_debug"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid message format"
	ErrReadOnlyConnection   = "this connection cannot send commands"
	ErrRateLimited          = "rate limit exceeded"

	// Connection errors
	ErrConnectionClosed = "connection is closed"
	ErrFailedToEncode   = "failed to encode message"
	ErrSendBufferFull   = "send buffer full"

	// Server errors
	ErrServerAlreadyRunning = "server already running"
)
