package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaTransport dials with github.com/gorilla/websocket.
type GorillaTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial opens a websocket connection.
func (t *GorillaTransport) Dial(ctx context.Context, endpoint string, subprotocols []string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	if t.Dialer != nil {
		dialer = *t.Dialer
	}
	dialer.Subprotocols = subprotocols

	conn, resp, err := dialer.DialContext(ctx, endpoint, t.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer; Close writes a control frame
	// alongside the client's writer goroutine.
	writeMu sync.Mutex
	once    sync.Once
}

func (c *gorillaConn) Read(ctx context.Context) ([]byte, error) {
	// ReadMessage ignores ctx; cancellation is delivered by Close.
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) Write(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *gorillaConn) Close(code StatusCode, reason string) error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(int(code), reason)
		werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		if err == nil && werr != nil && werr != websocket.ErrCloseSent {
			err = werr
		}
	})
	return err
}
