package wsx

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultMaxFrameSize     = 512 * 1024
)

// WebsocketDialer opens websocket connections. The zero value is usable.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the websocket upgrade. Defaults to 15s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every outbound frame write. Defaults to 10s.
	WriteTimeout time.Duration

	// MaxFrameSize caps inbound frame size. Defaults to 512 KiB.
	MaxFrameSize int64

	// Header is sent with the upgrade request (e.g. client version).
	// Credentials never travel here; authentication is a post-connect frame.
	Header http.Header
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}

	dialer := &websocket.Dialer{HandshakeTimeout: handshake}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsx: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("wsx: dial %s: %w", url, err)
	}

	maxFrame := d.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}
	ws.SetReadLimit(maxFrame)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &websocketConn{ws: ws, writeTimeout: writeTimeout}, nil
}

// websocketConn adapts a gorilla connection to the Conn interface.
// gorilla permits one concurrent reader and one concurrent writer; the write
// mutex serialises callers, reads are single-owner in the connection's read
// loop.
type websocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()

	return c.ws.Close()
}
