package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/relink/internal/shared"
	"nhooyr.io/websocket"
)

// WebSocketTransport dials the media server's realtime endpoint and speaks
// JSON envelopes over a websocket. The channel credential rides in the
// query string, matching what the server's handshake expects.
type WebSocketTransport struct {
	baseURL string
}

// NewWebSocketTransport creates a transport rooted at the server base URL.
// Relative socket URLs returned by the token exchange are resolved against
// it.
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{baseURL: strings.TrimRight(baseURL, "/")}
}

// Dial implements [Transport].
func (t *WebSocketTransport) Dial(ctx context.Context, socketURL, token string) (Conn, error) {
	target, err := t.resolve(socketURL)
	if err != nil {
		return nil, err
	}

	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	c, _, err := websocket.Dial(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", shared.ErrNetworkFailure, target.Host, err)
	}
	c.SetReadLimit(1 << 20)

	return &wsConn{conn: c}, nil
}

// resolve turns the socket URL into an absolute ws:// or wss:// address.
func (t *WebSocketTransport) resolve(socketURL string) (*url.URL, error) {
	raw := socketURL
	if strings.HasPrefix(raw, "/") {
		raw = t.baseURL + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("bad socket url %q: %w", socketURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("bad socket url %q: unsupported scheme %q", socketURL, u.Scheme)
	}
	return u, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (Envelope, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", shared.ErrNetworkFailure, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	return env, nil
}

func (c *wsConn) Write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNetworkFailure, err)
	}
	return nil
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
