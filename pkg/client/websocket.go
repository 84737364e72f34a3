package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a duplex stream of text frames.
type Transport interface {
	// ReadText blocks until the next frame arrives. It returns io.EOF once
	// the remote closed the stream cleanly.
	ReadText() (string, error)
	WriteText(text string) error
	Close() error
}

// Dialer opens a Transport to a URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// WebSocketDialer dials ws:// and wss:// URLs.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// MaxFrameSize limits inbound frames; 0 means no limit.
	MaxFrameSize int64
}

// DefaultWebSocketDialer returns a dialer with the client's standard settings.
func DefaultWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
		MaxFrameSize:     1 << 20,
	}
}

// Dial connects to rawURL. Only ws and wss schemes are accepted.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   d.ReadBufferSize,
		WriteBufferSize:  d.WriteBufferSize,
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		// Improve error message for common TLS/handshake issues
		if errors.Is(err, websocket.ErrBadHandshake) {
			if u.Scheme == "wss" {
				return nil, fmt.Errorf("TLS handshake failed - server may not support WSS (try ws:// instead): %w", err)
			}
			return nil, fmt.Errorf("handshake failed - server may require WSS/TLS (try wss:// instead): %w", err)
		}
		return nil, err
	}
	if d.MaxFrameSize > 0 {
		ws.SetReadLimit(d.MaxFrameSize)
	}

	return NewWebSocketTransport(ws), nil
}

// WebSocketTransport adapts a gorilla WebSocket connection to Transport.
type WebSocketTransport struct {
	ws      *websocket.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(ws *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{ws: ws}
}

// ReadText implements Transport. Binary frames are passed through as text.
func (t *WebSocketTransport) ReadText() (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	_, data, err := t.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		return "", err
	}
	return string(data), nil
}

// WriteText implements Transport.
func (t *WebSocketTransport) WriteText(text string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return net.ErrClosed
	}
	return t.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a close frame when possible and releases the socket. It is
// idempotent.
func (t *WebSocketTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.ws.Close()
}

func (t *WebSocketTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

