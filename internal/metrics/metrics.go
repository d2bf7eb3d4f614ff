// Package metrics exposes Prometheus metrics for client exchanges and for
// the loopback server.
package metrics

import (
	stdErrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jsonrpc-client/internal/errors"
)

// Outcomes used as label values.
const (
	OutcomeOK              = "ok"
	OutcomeRemoteError     = "remote_error"
	OutcomeIDMismatch      = "id_mismatch"
	OutcomeMalformed       = "malformed"
	OutcomeConnectionError = "connection_error"
	OutcomeInvalidArgument = "invalid_argument"
	OutcomeError           = "error"
)

// Metrics holds the collectors of one registry. Each instance has its own
// registry so tests and embedded servers do not share state.
type Metrics struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	remoteErrors     *prometheus.CounterVec
	serverRequests   *prometheus.CounterVec
	serverBatches    prometheus.Counter
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jsonrpc_client_exchanges_total", Help: "Number of client exchanges by kind and outcome"}, []string{"kind", "outcome"}),
		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "jsonrpc_client_exchange_duration_seconds", Help: "Duration of client exchanges",
			Buckets: prometheus.DefBuckets}, []string{"kind"}),
		remoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jsonrpc_client_remote_errors_total", Help: "Number of error objects received by code"}, []string{"code"}),
		serverRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jsonrpc_server_requests_total", Help: "Number of requests handled by the loopback server"}, []string{"method", "outcome"}),
		serverBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "jsonrpc_server_batches_total", Help: "Number of batches handled by the loopback server"}),
	}
}

// ObserveExchange records a client exchange. It makes *Metrics a
// client.Observer.
func (m *Metrics) ObserveExchange(kind, _ string, duration time.Duration, err error) {
	m.exchanges.WithLabelValues(kind, Outcome(err)).Inc()
	m.exchangeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	var remote *errors.RemoteError
	if stdErrors.As(err, &remote) {
		m.remoteErrors.WithLabelValues(strconv.Itoa(remote.Code)).Inc()
	}
}

// ObserveServerRequest records one request handled by the loopback server.
// code is 0 for success.
func (m *Metrics) ObserveServerRequest(method string, code int) {
	outcome := OutcomeOK
	if code != 0 {
		outcome = strconv.Itoa(code)
	}
	m.serverRequests.WithLabelValues(method, outcome).Inc()
}

// ObserveServerBatch records one batch handled by the loopback server.
func (m *Metrics) ObserveServerBatch() {
	m.serverBatches.Inc()
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome classifies an exchange error into a label value.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var (
		remote    *errors.RemoteError
		mismatch  *errors.IDMismatchError
		malformed *errors.MalformedResponseError
		conn      *errors.ConnectionError
		invalid   *errors.InvalidArgumentError
	)
	switch {
	case stdErrors.As(err, &remote):
		return OutcomeRemoteError
	case stdErrors.As(err, &mismatch):
		return OutcomeIDMismatch
	case stdErrors.As(err, &malformed):
		return OutcomeMalformed
	case stdErrors.As(err, &conn):
		return OutcomeConnectionError
	case stdErrors.As(err, &invalid):
		return OutcomeInvalidArgument
	default:
		return OutcomeError
	}
}
