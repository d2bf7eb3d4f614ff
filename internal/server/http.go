package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/metrics"
	"jsonrpc-client/internal/models"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 60 * time.Second
	// Requests above this size are rejected before they are parsed.
	defaultMaxRequestSizeMB = 50
)

// HTTPHandler serves the processor over HTTP and WebSocket.
type HTTPHandler struct {
	processor  *Processor
	metrics    *metrics.Metrics
	maxReqSize int64
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	Server     *http.Server
}

// NewHTTPHandler creates a new HTTPHandler. m may be nil, in which case
// /metrics is not served.
func NewHTTPHandler(p *Processor, m *metrics.Metrics, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		processor:  p,
		metrics:    m,
		maxReqSize: int64(defaultMaxRequestSizeMB) * 1024 * 1024,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:    logger.With().Str("component", "http_server").Logger(),
		Server: &http.Server{},
	}
}

// Router returns the routes of the handler.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", h.handleRPC).Methods(http.MethodPost)
	r.HandleFunc("/rpc/ws", h.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealthCheck).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// writeJSONResponse is a helper to write a JSON body with a status.
func writeJSONResponse(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	// Headers are already sent; a write error cannot be reported.
	_, _ = w.Write(body)
}

func (h *HTTPHandler) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	body, _ := json.Marshal(map[string]any{"status": "ok", "methods": h.processor.Methods()})
	writeJSONResponse(w, http.StatusOK, body)
}

func (h *HTTPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		h.writeError(w, http.StatusUnsupportedMediaType,
			errors.NewInvalidRequestError("Invalid Content-Type header. Must be 'application/json' or 'application/json; charset=utf-8'."))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxReqSize)
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			errors.NewInvalidRequestError(fmt.Sprintf("Request body exceeds maximum size of %dMB.", defaultMaxRequestSizeMB)))
		return
	}

	body, code := h.processor.Process(r.Context(), payload)
	h.log.Debug().
		Str("request_id", r.Header.Get("X-Request-ID")).
		Int("request_bytes", len(payload)).
		Int("response_bytes", len(body)).
		Msg("RPC request handled")
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONResponse(w, errors.MapErrorToHTTPStatus(code), body)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, detail *models.ErrorDetail) {
	res, _ := models.NewErrorResponse(models.NullID(), *detail)
	body := h.processor.encodeSingle(res)
	writeJSONResponse(w, status, body)
}

// handleWebSocket answers every text frame with one frame, except for
// notifications which get none.
func (h *HTTPHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxReqSize)
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket connected")

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("WebSocket read ended")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		body, _ := h.processor.Process(r.Context(), payload)
		if body == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			h.log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

// Serve accepts connections on l until Shutdown is called.
func (h *HTTPHandler) Serve(l net.Listener) error {
	h.Server.Handler = h.Router()
	h.Server.ReadTimeout = defaultReadTimeout
	h.Server.WriteTimeout = defaultWriteTimeout

	h.log.Info().Str("addr", l.Addr().String()).Msg("HTTP server starting")
	err := h.Server.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		h.log.Error().Err(err).Msg("HTTP server error")
		return err
	}
	h.log.Info().Msg("HTTP server shut down")
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (h *HTTPHandler) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return h.Serve(l)
}

// Shutdown stops the server gracefully.
func (h *HTTPHandler) Shutdown(ctx context.Context) error {
	return h.Server.Shutdown(ctx)
}
