// Package client implements the JSON-RPC 2.0 Connection: it allocates
// request ids, sends single and batched calls through a transport and
// matches the responses back to the requests that caused them.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"jsonrpc-client/internal/codec"
	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/models"
	"jsonrpc-client/internal/transport"
)

// Exchange kinds reported to an Observer.
const (
	KindCall   = "call"
	KindNotify = "notify"
	KindBatch  = "batch"
)

// Observer is told about every exchange a Connection performs.
// method is empty for batches.
type Observer interface {
	ObserveExchange(kind, method string, duration time.Duration, err error)
}

// Option configures a Connection.
type Option func(*Connection)

// WithPrefix scopes the connection's ids: with a prefix ids are strings of
// the form "<prefix>-<n>", without one they are the bare integers n.
func WithPrefix(prefix string) Option {
	return func(c *Connection) { c.prefix = prefix }
}

// WithLogger sets the logger used for exchange traces.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) { c.log = logger }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(c *Connection) { c.observer = o }
}

// Connection is a logical JSON-RPC session over one transport. It is safe
// for concurrent use as long as the transport is; ids stay unique under
// concurrent calls.
type Connection struct {
	transport transport.Transport
	prefix    string
	seq       atomic.Int64
	log       zerolog.Logger
	observer  Observer
}

// New creates a Connection sending through t.
func New(t transport.Transport, opts ...Option) *Connection {
	c := &Connection{transport: t, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "jsonrpc_connection").Str("prefix", c.prefix).Logger()
	return c
}

// Prefix returns the id prefix, empty when ids are bare integers.
func (c *Connection) Prefix() string { return c.prefix }

// RequestsMade returns how many ids the connection has allocated.
// Notifications do not allocate ids and are not counted.
func (c *Connection) RequestsMade() int64 { return c.seq.Load() }

// Transport returns the underlying transport.
func (c *Connection) Transport() transport.Transport { return c.transport }

// Close closes the transport if it can be closed.
func (c *Connection) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NextID allocates the next request id.
func (c *Connection) NextID() models.Identifier {
	n := c.seq.Add(1) - 1
	if c.prefix == "" {
		return models.IntID(n)
	}
	return models.StringID(c.prefix + "-" + strconv.FormatInt(n, 10))
}

// NewRequest builds a request carrying the next id of this connection.
// Nothing is allocated when method or params are invalid.
func (c *Connection) NewRequest(method string, params *models.Params) (models.Request, error) {
	if _, err := models.NewNotification(method, params); err != nil {
		return models.Request{}, err
	}
	return models.NewRequest(c.NextID(), method, params)
}

// Call invokes method and returns its raw result.
//
// An error object in the response fails with *errors.RemoteError, which
// is checked before the id so that an error answered with a null id is
// reported as what it is. A response for another id fails with
// *errors.IDMismatchError.
func (c *Connection) Call(ctx context.Context, method string, params *models.Params) (json.RawMessage, error) {
	req, err := c.NewRequest(method, params)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.roundTrip(ctx, req)
	if err == nil {
		err = checkResponse(req, res)
	}
	c.observe(KindCall, method, start, err)
	if err != nil {
		return nil, err
	}
	return res.Result(), nil
}

// CallInto calls method and decodes the result into out.
func (c *Connection) CallInto(ctx context.Context, method string, params *models.Params, out any) error {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return nil
}

// Notify sends a notification. No response is read: any reply body the
// transport hands back is discarded without being interpreted. Only
// transport failures are reported.
func (c *Connection) Notify(ctx context.Context, method string, params *models.Params) error {
	req, err := models.NewNotification(method, params)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.deliver(ctx, req)
	c.observe(KindNotify, method, start, err)
	return err
}

// SendRequest sends a prebuilt request or notification. It returns the
// decoded response, or nil for a notification. Unlike Call it does not
// interpret the response: error objects and foreign ids are returned as
// they came.
func (c *Connection) SendRequest(ctx context.Context, req models.Request) (*models.Response, error) {
	start := time.Now()
	if req.IsNotification() {
		err := c.deliver(ctx, req)
		c.observe(KindNotify, req.Method(), start, err)
		return nil, err
	}
	res, err := c.roundTrip(ctx, req)
	c.observe(KindCall, req.Method(), start, err)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Connection) roundTrip(ctx context.Context, req models.Request) (models.Response, error) {
	payload, err := codec.EncodeRequest(req)
	if err != nil {
		return models.Response{}, err
	}
	c.log.Debug().Stringer("request", req).RawJSON("payload", payload).Msg("Sending request")

	body, err := c.transport.Send(ctx, payload)
	if err != nil {
		return models.Response{}, &errors.ConnectionError{Op: "send " + req.Method(), Err: err}
	}
	c.log.Debug().Bytes("body", body).Msg("Received response")
	return codec.DecodeResponse(body)
}

func (c *Connection) deliver(ctx context.Context, req models.Request) error {
	payload, err := codec.EncodeRequest(req)
	if err != nil {
		return err
	}
	c.log.Debug().Stringer("request", req).RawJSON("payload", payload).Msg("Sending notification")
	if err := c.push(ctx, payload); err != nil {
		return &errors.ConnectionError{Op: "notify " + req.Method(), Err: err}
	}
	return nil
}

// push sends a payload that expects no reply.
func (c *Connection) push(ctx context.Context, payload []byte) error {
	if n, ok := c.transport.(transport.Notifier); ok {
		return n.Notify(ctx, payload)
	}
	_, err := c.transport.Send(ctx, payload)
	return err
}

func (c *Connection) observe(kind, method string, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveExchange(kind, method, time.Since(start), err)
	}
	if err != nil {
		c.log.Debug().Err(err).Str("kind", kind).Str("method", method).Msg("Exchange failed")
	}
}

func checkResponse(req models.Request, res models.Response) error {
	if detail := res.Error(); detail != nil {
		return errors.NewRemoteError(res.ID(), detail)
	}
	reqID, _ := req.ID()
	if !reqID.Equal(res.ID()) {
		return &errors.IDMismatchError{RequestID: reqID, ResponseID: res.ID()}
	}
	return nil
}
