package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"forumdm/internal/protocol"
)

// Conn is one persistent connection to the hub.
type Conn interface {
	// Read blocks for the next frame. A closed connection yields
	// ErrAuthFailed, ErrSessionEnded or ErrTransportDropped.
	Read(ctx context.Context) (protocol.Frame, error)
	Write(ctx context.Context, f protocol.Frame) error
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the hub's websocket endpoint.
type WebSocketDialer struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client

	// ReadLimit caps inbound frame size; 0 keeps the library default.
	ReadLimit int64
}

// Dial opens a websocket to d.URL.
func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %v", ErrTransportDropped, d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportDropped, d.URL, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (protocol.Frame, error) {
	for {
		mt, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, classifyClose(err)
		}
		if mt != websocket.MessageText {
			continue
		}
		f, err := protocol.Decode(data)
		if err != nil {
			// An unknown frame from a newer server is skipped, not fatal.
			if errors.Is(err, protocol.ErrUnknownType) {
				continue
			}
			return nil, err
		}
		return f, nil
	}
}

func (c *wsConn) Write(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return classifyClose(err)
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func classifyClose(err error) error {
	switch websocket.CloseStatus(err) {
	case protocol.CloseAuthFailed:
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	case protocol.CloseSessionEnded:
		return fmt.Errorf("%w: %v", ErrSessionEnded, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransportDropped, err)
	}
}
