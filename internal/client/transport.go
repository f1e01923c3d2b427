package client

import (
	"context"
	"net/http"

	"manualpilot/remotepad/internal/protocol"
	"nhooyr.io/websocket"
)

// Conn is one established message channel. Read and Write may be called
// concurrently with each other but not with themselves.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// WSDialer opens the event channel over websocket.
type WSDialer struct {
	HTTPClient *http.Client
	Secure     bool
}

func (d WSDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, target.URL(d.Secure), &websocket.DialOptions{
		HTTPClient:      d.HTTPClient,
		CompressionMode: websocket.CompressionDisabled,
	})

	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(protocol.MaxMessageSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, b, err := c.conn.Read(ctx)
	return b, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
