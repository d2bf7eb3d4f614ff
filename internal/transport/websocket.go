package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketTransport sends each payload as one text frame and takes the
// next text frame as the reply.
type WebSocketTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
	log    zerolog.Logger
}

// DialWebSocket connects to a ws:// or wss:// endpoint.
func DialWebSocket(ctx context.Context, url string, headers map[string]string, handshakeTimeout time.Duration, logger *zerolog.Logger) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed with status %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	t := &WebSocketTransport{conn: conn, log: zerolog.Nop()}
	if logger != nil {
		t.log = logger.With().Str("component", "websocket_transport").Logger()
	}
	t.log.Debug().Str("url", url).Msg("WebSocket connected")
	return t, nil
}

// Send writes payload and waits for the next data frame. If ctx ends
// while waiting, the transport is closed, as with StdioTransport.
func (t *WebSocketTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.write(ctx, payload); err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := t.readFrame()
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}
}

func (t *WebSocketTransport) readFrame() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("reading websocket frame: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Notify writes payload without waiting for a frame back.
func (t *WebSocketTransport) Notify(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(ctx, payload)
}

// Close sends a close frame and closes the connection. It may be called
// while a Send is waiting; later calls are no-ops.
func (t *WebSocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *WebSocketTransport) write(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing websocket frame: %w", err)
	}
	return nil
}
