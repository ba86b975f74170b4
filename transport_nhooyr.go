package realtime

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// NhooyrTransport dials with nhooyr.io/websocket. It is the default
// transport.
type NhooyrTransport struct {
	HTTPClient *http.Client
	Header     http.Header
	// ReadLimit caps incoming frame size in bytes; zero keeps the
	// library default.
	ReadLimit int64
}

// Dial opens a websocket connection.
func (t *NhooyrTransport) Dial(ctx context.Context, endpoint string, subprotocols []string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient:   t.HTTPClient,
		HTTPHeader:   t.Header,
		Subprotocols: subprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}
	return &nhooyrConn{conn: conn}, nil
}

type nhooyrConn struct {
	conn *websocket.Conn
}

func (c *nhooyrConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *nhooyrConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *nhooyrConn) Close(code StatusCode, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
