// Package wsconn abstracts the live WebSocket handle the persistent-websocket
// engine reads from and writes to, so the engine never imports a concrete
// WebSocket library directly. Two backends are provided: gobwasconn (server
// role, github.com/gobwas/ws) and gorillaconn (client role,
// github.com/gorilla/websocket).
package wsconn

import "context"

// Socket is the capability the engine needs from a live WebSocket
// connection, independent of which library accepted or dialed it.
type Socket interface {
	// SendBytes writes one binary frame.
	SendBytes(ctx context.Context, data []byte) error
	// RecvBytes blocks for the next binary frame, or returns an error
	// (including context cancellation or a closed connection).
	RecvBytes(ctx context.Context) ([]byte, error)
	// Close closes the underlying connection. Safe to call more than once.
	Close() error
}
