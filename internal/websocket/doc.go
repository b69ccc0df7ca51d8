// Package websocket implements heartbeat-managed connections.
//
// A Socket owns one transport and is attached to exactly one Owner. It runs a
// read pump that hands every inbound frame to the owner and a write pump that
// drains a bounded send queue and drives the ping/pong heartbeat. Whatever ends
// the socket (heartbeat timeout, peer close, network error, rate-limit
// violation, or an explicit Terminate) goes through the same path: state
// becomes TERMINATED, the transport is closed, and the owner's SocketClosed
// runs exactly once.
package websocket
