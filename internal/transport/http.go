package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultConnectTimeout = 60 * time.Second
	// Responses above this size are rejected rather than buffered.
	defaultMaxResponseSizeMB = 50

	// RequestIDHeader carries a unique id per HTTP exchange for server-side log correlation.
	RequestIDHeader = "X-Request-ID"
)

// HTTP versions accepted by HTTPOptions.Version.
const (
	HTTPVersion11 = "1.1"
	HTTPVersion2  = "2"
)

// StatusError is returned when the server answers with a non-2xx status
// and no body that could hold a JSON-RPC response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// RequestTimeout bounds a whole exchange. Zero means 60s.
	RequestTimeout time.Duration
	// ConnectTimeout bounds dialing and the TLS handshake. Zero means 60s.
	ConnectTimeout time.Duration
	// Version is "1.1" or "2". Empty lets Go negotiate.
	Version string
	// FollowRedirects follows 3xx answers when set.
	FollowRedirects bool
	// Cookies keeps a cookie jar across exchanges, e.g. for session cookies
	// set by a login call.
	Cookies bool
	// MaxResponseBytes limits the size of a reply. Zero means 50MB.
	MaxResponseBytes int64
	// Client replaces the http.Client built from the options above.
	Client *http.Client
	Logger *zerolog.Logger
}

// HTTPTransport posts each payload to a single URL and returns the body.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	client     *http.Client
	maxResSize int64
	log        zerolog.Logger
}

// NewHTTPTransport creates a new HTTPTransport.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", opts.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: scheme must be http or https", opts.URL)
	}

	client := opts.Client
	if client == nil {
		client, err = newHTTPClient(opts, u.Scheme == "https")
		if err != nil {
			return nil, err
		}
	}

	maxResSize := opts.MaxResponseBytes
	if maxResSize <= 0 {
		maxResSize = int64(defaultMaxResponseSizeMB) * 1024 * 1024
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "http_transport").Logger()
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &HTTPTransport{
		url:        u.String(),
		headers:    headers,
		client:     client,
		maxResSize: maxResSize,
		log:        log,
	}, nil
}

func newHTTPClient(opts HTTPOptions, isTLS bool) (*http.Client, error) {
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}

	var rt http.RoundTripper
	switch opts.Version {
	case "", HTTPVersion11:
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: connectTimeout,
			ForceAttemptHTTP2:   opts.Version == "",
		}
		if opts.Version == HTTPVersion11 {
			// A non-nil empty map disables the automatic HTTP/2 upgrade.
			tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		}
		rt = tr
	case HTTPVersion2:
		if isTLS {
			tr := &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			}
			if err := http2.ConfigureTransport(tr); err != nil {
				return nil, fmt.Errorf("configuring HTTP/2: %w", err)
			}
			rt = tr
		} else {
			// Cleartext HTTP/2 with prior knowledge.
			rt = &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					return dialer.DialContext(ctx, network, addr)
				},
				ReadIdleTimeout: requestTimeout,
				PingTimeout:     connectTimeout,
			}
		}
	default:
		return nil, fmt.Errorf("unsupported HTTP version %q", opts.Version)
	}

	client := &http.Client{Transport: rt, Timeout: requestTimeout}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if opts.Cookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client.Jar = jar
	}
	return client, nil
}

// URL returns the endpoint the transport posts to.
func (t *HTTPTransport) URL() string { return t.url }

// Send posts payload and returns the response body. A body is returned
// for any status as long as it is not empty: JSON-RPC servers often
// answer parse errors with 400 and a valid error object.
func (t *HTTPTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	body, status, err := t.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if (status.StatusCode < 200 || status.StatusCode > 299) && len(bytes.TrimSpace(body)) == 0 {
		return nil, status
	}
	return body, nil
}

// Notify posts payload and ignores the body. Only non-2xx answers fail.
func (t *HTTPTransport) Notify(ctx context.Context, payload []byte) error {
	_, status, err := t.post(ctx, payload)
	if err != nil {
		return err
	}
	if status.StatusCode < 200 || status.StatusCode > 299 {
		return status
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, payload []byte) ([]byte, *StatusError, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	exchangeID := uuid.NewString()
	req.Header.Set(RequestIDHeader, exchangeID)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Debug().Err(err).Str("exchange_id", exchangeID).Msg("HTTP exchange failed")
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > t.maxResSize {
		return nil, nil, fmt.Errorf("response body exceeds %d bytes", t.maxResSize)
	}
	t.log.Debug().
		Str("exchange_id", exchangeID).
		Int("status", resp.StatusCode).
		Int("request_bytes", len(payload)).
		Int("response_bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("HTTP exchange completed")
	return body, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}, nil
}
