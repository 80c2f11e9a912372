// Package gobwasconn adapts a server-accepted raw TCP connection upgraded
// with github.com/gobwas/ws into a wsconn.Socket.
package gobwasconn

import (
	"context"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn"
)

// Conn wraps a net.Conn already upgraded to a WebSocket by ws.UpgradeHTTP,
// reading/writing server-side frames (unmasked out, masked in).
type Conn struct {
	nc net.Conn
}

// New wraps conn, which must already have completed the gobwas/ws server
// upgrade handshake.
func New(conn net.Conn) *Conn {
	return &Conn{nc: conn}
}

var _ wsconn.Socket = (*Conn)(nil)

func (c *Conn) SendBytes(ctx context.Context, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	}
	return wsutil.WriteServerMessage(c.nc, ws.OpBinary, data)
}

func (c *Conn) RecvBytes(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(dl)
	}
	for {
		data, op, err := wsutil.ReadClientData(c.nc)
		if err != nil {
			return nil, err
		}
		switch op {
		case ws.OpBinary, ws.OpText:
			return data, nil
		case ws.OpClose:
			return nil, net.ErrClosed
		default:
			// ping/pong/continuation handled transparently by wsutil; loop for the
			// next frame rather than surfacing it to the engine.
			continue
		}
	}
}

func (c *Conn) Close() error {
	return c.nc.Close()
}
