// Package kephasgame is the session layer of a real-time multiplayer game server.
//
// It manages the lifecycle of game sessions, the players and spectators
// attached to them, and the WebSocket connections that carry game events and
// commands. Game rules are not part of this module: they plug in through a
// factory (see package ws) that normalizes per-game configuration and builds
// the hooks and command handlers for each game and player.
//
// # Architecture
//
//	Registry ── owns ──> Game ── owns ──> Player ── owns ──> Socket (game)
//	   │                  ├── owns ──> Socket (spectator)
//	   │                  └── DebugLogger ──> Socket (debug)
//	   └── DebugLogger ──> Socket (debug)
//
// The registry creates games (enforcing a global limit), reclaims games whose
// players have all been gone longer than the inactivity window, and resolves
// connection upgrades to the entity a new socket belongs to. Every socket runs
// a ping/pong heartbeat and is torn down through a single path that notifies
// its owner exactly once.
//
// # Connection routes
//
//	/server-debug                                    server debug observer
//	/games/{gameId}/spectate                         spectator
//	/games/{gameId}/debug                            game debug observer
//	/games/{gameId}/players/{playerId}/connect?secret=...  player connection
//	/games/{gameId}/players/{playerId}/debug?secret=...    player debug observer
//
// # Wire format
//
// Every frame is a JSON text message:
//
//	{ "name": "move", "data": { "x": 1 } }
//
// Broadcasts that carry the player who caused them are wrapped:
//
//	{ "origin": "<playerId>", "event": { "name": "...", "data": { ... } } }
//
// Malformed input is answered with a cg_error event and never closes the
// connection. Names starting with cg_ are reserved for the session layer.
//
// # Management API
//
// The HTTP server mounts the Directory operations under /api (list, create,
// inspect, and close games; list, add, and inspect players) and /healthz.
//
// # Security Features
//
//   - 64-character secrets from crypto/rand, compared in constant time
//   - Rate limiting per connection (closes with 1008 on violation)
//   - Maximum frame size: 1MB
//   - Origin validation on upgrade
//
// # Important
//
//   - Game hooks and command handlers run one at a time per game; use
//     Player.Leave rather than calling Game.RemovePlayer from inside them.
//   - Nothing survives a process restart.
package kephasgame
