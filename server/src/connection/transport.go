// Package connection adapts the room engine to the wire: it decodes
// frames, rate-limits a connection's inbound traffic, dispatches each
// message to the matching room.Engine method, and implements
// room.Sender on top of a websocket transport.
package connection

import (
	"context"
	"errors"
	"time"

	"nhooyr.io/websocket"
)

const (
	maxFrameBytes = 512 * 1024
	// hardReadLimit backstops nhooyr's own read limit well above
	// maxFrameBytes so an oversized frame is still handed back to us to
	// reject with an error frame, instead of nhooyr tearing the socket
	// down with StatusMessageTooBig before we get a chance to reply.
	hardReadLimit = maxFrameBytes * 4
	readTimeout   = 10 * time.Second
)

// ErrFrameTooLarge is returned by Read when a frame exceeds
// maxFrameBytes. Unlike other Read errors it does not mean the
// connection is dead: spec §4.6 requires rejecting the oversized frame
// with an error reply while keeping the connection open.
var ErrFrameTooLarge = errors.New("connection: frame exceeds maximum size")

// Transport is the minimal read/write/close surface a Conn needs;
// production code backs it with nhooyr.io/websocket, tests back it
// with an in-memory fake.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

type wsTransport struct {
	conn *websocket.Conn
}

// NewWebsocketTransport wraps an already-accepted websocket connection.
// The library's own read limit is set well above maxFrameBytes so Read
// can enforce the real cap itself and report it as a recoverable
// ErrFrameTooLarge rather than the library closing the socket.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(hardReadLimit)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	_, payload, err := t.conn.Read(readCtx)
	if err != nil {
		return nil, err
	}
	if len(payload) > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	return payload, nil
}

func (t *wsTransport) Write(ctx context.Context, payload []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
