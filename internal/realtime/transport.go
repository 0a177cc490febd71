package realtime

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// maxFrameBytes caps inbound frame reads. Push payloads are small JSON
// documents; anything larger indicates a misbehaving server.
const maxFrameBytes = 1024 * 1024

// Conn abstracts the transport session so the Client can be tested
// without a real server. *wsSession satisfies this interface.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a transport session. The default implementation dials a
// WebSocket; tests substitute a mock.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real WebSocket connections.
type WSDialer struct{}

// Dial opens a WebSocket to url and applies the frame read limit.
func (WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxFrameBytes)

	return conn, nil
}
