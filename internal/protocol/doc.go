// Package protocol implements the JSON text envelope carried by game,
// spectator, and debug connections.
package protocol
