// Package transport holds the byte-level collaborators a Connection sends
// its messages through. A transport knows nothing about JSON-RPC: it
// delivers a payload and hands back whatever the peer answered.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("transport closed")

// Transport is a synchronous request/response exchange over bytes.
type Transport interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
}

// Notifier is implemented by transports that can deliver a payload
// without waiting for an answer. Stream transports need it because a peer
// sends nothing back for a notification.
type Notifier interface {
	Notify(ctx context.Context, payload []byte) error
}

// Func adapts an ordinary function to the Transport interface.
// It is mostly used for in-process peers and tests.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

// Send calls f(ctx, payload).
func (f Func) Send(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
