package tcpconnector

import (
	"bytes"
	"context"
	"io"
	"net"
)

// activeConn is the single active TCP connection the jet channel bridges
// (host or peer side); the jet channel permits at most one at a time.
type activeConn struct {
	transport net.Conn
	owner     *Connector
}

func newActiveConn(transport net.Conn, owner *Connector) *activeConn {
	return &activeConn{transport: transport, owner: owner}
}

// pump reads from the local TCP socket and relays each read as jet-channel
// data until the socket closes, then notifies the owning connector.
func (a *activeConn) pump(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.transport.Read(buf)
		if n > 0 {
			data := bytes.Clone(buf[:n])
			if sendErr := a.owner.sender.JetSend(ctx, data); sendErr != nil {
				a.owner.log.Warn().Str("code", "B99181").Err(sendErr).Msg("jet_send failed")
			}
		}
		if err != nil {
			if err != io.EOF {
				a.owner.log.Debug().Str("code", "B99182").Err(err).Msg("TCP read error")
			}
			break
		}
	}
	a.owner.onConnLost(ctx, a)
}

// write delivers jet-channel data received from the remote engine onto the
// local TCP socket.
func (a *activeConn) write(data []byte) {
	_, _ = a.transport.Write(data)
}
