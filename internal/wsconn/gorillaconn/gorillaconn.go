// Package gorillaconn adapts an outbound github.com/gorilla/websocket
// connection into a wsconn.Socket, for use by the client (dialing) role.
package gorillaconn

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn"
)

// Conn wraps a *websocket.Conn dialed by Dial.
type Conn struct {
	ws *websocket.Conn
}

// New wraps an already-established gorilla/websocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial opens a new client connection to url, the client-role entry point
// for Connect's auto-reconnect loop. authToken, if non-empty, is presented
// as a bearer token in the upgrade request's Authorization header.
func Dial(ctx context.Context, url string, authToken string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	var header http.Header
	if authToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + authToken}}
	}
	c, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

var _ wsconn.Socket = (*Conn)(nil)

func (c *Conn) SendBytes(ctx context.Context, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Conn) RecvBytes(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	}
	for {
		op, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if op == websocket.BinaryMessage || op == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
