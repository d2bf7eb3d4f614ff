// Package server is a small JSON-RPC 2.0 server used to exercise the
// client end to end: over HTTP, WebSocket and stdio.
package server

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"jsonrpc-client/internal/codec"
	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/metrics"
	"jsonrpc-client/internal/models"
)

// MethodFunc implements a method. params is nil when the request had
// none. A non-nil *models.ErrorDetail is sent back as the error object.
type MethodFunc func(ctx context.Context, params *models.Params) (any, *models.ErrorDetail)

// Processor dispatches decoded requests to registered methods.
type Processor struct {
	mu            sync.RWMutex
	methods       map[string]MethodFunc
	notifications atomic.Int64
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// NewProcessor creates a processor with the built-in methods registered:
// ping, echo, sum, fail and stats. m may be nil.
func NewProcessor(m *metrics.Metrics, logger zerolog.Logger) *Processor {
	p := &Processor{
		methods: make(map[string]MethodFunc),
		metrics: m,
		log:     logger.With().Str("component", "processor").Logger(),
	}
	p.Register("ping", handlePing)
	p.Register("echo", handleEcho)
	p.Register("sum", handleSum)
	p.Register("fail", handleFail)
	p.Register("stats", p.handleStats)
	return p
}

// Register adds or replaces a method.
func (p *Processor) Register(name string, fn MethodFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[name] = fn
}

// Methods returns the registered method names, sorted.
func (p *Processor) Methods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.methods))
	for name := range p.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notifications returns how many notifications have been handled.
func (p *Processor) Notifications() int64 { return p.notifications.Load() }

// Process handles a raw payload, single or batch, and returns the reply
// body. It returns nil when nothing must be sent back: for a notification
// and for a batch made only of notifications. code is the error code of a
// single error reply, 0 otherwise; transports use it to pick a status.
func (p *Processor) Process(ctx context.Context, payload []byte) (body []byte, code int) {
	elements, isBatch, err := codec.SplitPayload(payload)
	if err != nil {
		detail := detailForDecodeError(err)
		return p.encodeSingle(errorResponse(models.NullID(), detail)), detail.Code
	}

	if !isBatch {
		res := p.processElement(ctx, elements[0])
		if res == nil {
			return nil, 0
		}
		if detail := res.Error(); detail != nil {
			code = detail.Code
		}
		return p.encodeSingle(*res), code
	}

	if p.metrics != nil {
		p.metrics.ObserveServerBatch()
	}
	var responses []models.Response
	for _, el := range elements {
		if res := p.processElement(ctx, el); res != nil {
			responses = append(responses, *res)
		}
	}
	if len(responses) == 0 {
		return nil, 0
	}
	out, err := codec.EncodeBatchResponse(responses)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode batch response")
		return p.encodeSingle(errorResponse(models.NullID(), errors.NewInternalError("failed to encode response"))), errors.CodeInternalError
	}
	return out, 0
}

func (p *Processor) processElement(ctx context.Context, raw json.RawMessage) *models.Response {
	req, err := codec.DecodeRequest(raw)
	if err != nil {
		id := models.NullID()
		var decodeErr *codec.RequestDecodeError
		if stdErrors.As(err, &decodeErr) {
			id = decodeErr.ID
		}
		res := errorResponse(id, detailForDecodeError(err))
		p.observe("", res.Error())
		return &res
	}
	return p.ProcessRequest(ctx, req)
}

// ProcessRequest runs one decoded request. It returns nil for a
// notification, whatever the method did.
func (p *Processor) ProcessRequest(ctx context.Context, req models.Request) *models.Response {
	p.mu.RLock()
	fn, ok := p.methods[req.Method()]
	p.mu.RUnlock()

	var (
		result any
		detail *models.ErrorDetail
	)
	if ok {
		result, detail = fn(ctx, req.ParamsRef())
	} else {
		detail = errors.NewMethodNotFoundError(req.Method())
	}
	label := req.Method()
	if !ok {
		label = unknownMethodLabel
	}
	p.observe(label, detail)

	id, hasID := req.ID()
	if !hasID {
		p.notifications.Add(1)
		p.log.Debug().Str("method", req.Method()).Msg("Notification handled")
		return nil
	}
	if detail != nil {
		res := errorResponse(id, detail)
		return &res
	}
	raw, err := json.Marshal(result)
	if err != nil {
		res := errorResponse(id, errors.NewInternalError(fmt.Sprintf("failed to encode result: %v", err)))
		return &res
	}
	res, err := models.NewSuccessResponse(id, raw)
	if err != nil {
		res = errorResponse(models.NullID(), errors.NewInternalError(err.Error()))
	}
	return &res
}

// unknownMethodLabel stands in for methods that are not registered, so
// callers cannot grow the set of metric series.
const unknownMethodLabel = "<unknown>"

func (p *Processor) observe(method string, detail *models.ErrorDetail) {
	if p.metrics == nil {
		return
	}
	code := 0
	if detail != nil {
		code = detail.Code
	}
	if method == "" {
		method = "<invalid>"
	}
	p.metrics.ObserveServerRequest(method, code)
}

func (p *Processor) encodeSingle(res models.Response) []byte {
	out, err := codec.EncodeResponse(res)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode response")
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return out
}

func errorResponse(id models.Identifier, detail *models.ErrorDetail) models.Response {
	res, err := models.NewErrorResponse(id, *detail)
	if err != nil {
		res, _ = models.NewErrorResponse(models.NullID(), *detail)
	}
	return res
}

func detailForDecodeError(err error) *models.ErrorDetail {
	var decodeErr *codec.RequestDecodeError
	if stdErrors.As(err, &decodeErr) && decodeErr.Parse {
		return errors.NewParseError(decodeErr.Reason)
	}
	if decodeErr != nil {
		return errors.NewInvalidRequestError(decodeErr.Reason)
	}
	return errors.NewInvalidRequestError(err.Error())
}
