// Package service turns a configuration into ready to use connections:
// it dials the configured transport, chooses the connection's id prefix
// and optionally records every exchange in a journal.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"jsonrpc-client/internal/client"
	"jsonrpc-client/internal/codec"
	"jsonrpc-client/internal/config"
	"jsonrpc-client/internal/filesystem"
	"jsonrpc-client/internal/journal"
	"jsonrpc-client/internal/lock"
	"jsonrpc-client/internal/models"
	"jsonrpc-client/internal/transport"
)

// connectionPrefix names sequential and file counted connections.
const connectionPrefix = "con"

// connections numbers the connections of this process for the
// sequential prefix strategy.
var connections atomic.Int64

// ConnectionService defines how callers obtain connections.
type ConnectionService interface {
	Connect(ctx context.Context) (*client.Connection, error)
	LoadBatch(path string) ([]models.Request, error)
	Close() error
}

// Dialer opens the transport described by cfg. endpoint names the peer
// in the journal.
type Dialer func(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (t transport.Transport, endpoint string, err error)

// Option configures a DefaultConnectionService.
type Option func(*DefaultConnectionService)

// WithObserver makes every connection report its exchanges to o.
func WithObserver(o client.Observer) Option {
	return func(s *DefaultConnectionService) { s.observer = o }
}

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(s *DefaultConnectionService) { s.dial = d }
}

// WithLogger sets the logger handed to transports and connections.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *DefaultConnectionService) { s.log = logger }
}

// DefaultConnectionService implements the ConnectionService interface.
type DefaultConnectionService struct {
	cfg      *config.Config
	fs       filesystem.FileSystemAdapter
	counter  *lock.FileCounter
	dial     Dialer
	observer client.Observer
	log      zerolog.Logger

	mu      sync.Mutex
	journal *journal.DB
}

// NewDefaultConnectionService creates a new DefaultConnectionService.
// The configuration is validated once here.
func NewDefaultConnectionService(
	fs filesystem.FileSystemAdapter,
	lm lock.LockManagerInterface,
	cfg *config.Config,
	opts ...Option,
) (*DefaultConnectionService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem adapter is required")
	}
	if lm == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &DefaultConnectionService{
		cfg:  cfg,
		fs:   fs,
		dial: DialTransport,
		log:  zerolog.Nop(),
	}
	if cfg.PrefixStrategy == config.PrefixFile {
		s.counter = lock.NewFileCounter(cfg.CounterFile, fs, lm)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials the configured transport and returns a connection over
// it. Closing the connection closes the transport; the journal stays open
// until the service is closed.
func (s *DefaultConnectionService) Connect(ctx context.Context) (*client.Connection, error) {
	prefix, err := s.nextPrefix(ctx)
	if err != nil {
		return nil, fmt.Errorf("choosing id prefix: %w", err)
	}

	t, endpoint, err := s.dial(ctx, s.cfg, &s.log)
	if err != nil {
		return nil, fmt.Errorf("connecting over %s: %w", s.cfg.Transport, err)
	}

	if s.cfg.Journal != "" {
		recorded, err := s.record(t, prefix, endpoint)
		if err != nil {
			if closer, ok := t.(io.Closer); ok {
				_ = closer.Close()
			}
			return nil, err
		}
		t = recorded
	}

	opts := []client.Option{client.WithPrefix(prefix), client.WithLogger(s.log)}
	if s.observer != nil {
		opts = append(opts, client.WithObserver(s.observer))
	}
	s.log.Debug().
		Str("transport", s.cfg.Transport).
		Str("endpoint", endpoint).
		Str("prefix", prefix).
		Msg("Connection established")
	return client.New(t, opts...), nil
}

func (s *DefaultConnectionService) nextPrefix(ctx context.Context) (string, error) {
	switch s.cfg.PrefixStrategy {
	case config.PrefixSequential:
		return connectionPrefix + strconv.FormatInt(connections.Add(1)-1, 10), nil
	case config.PrefixFile:
		n, err := s.counter.Next(ctx)
		if err != nil {
			return "", err
		}
		return connectionPrefix + strconv.FormatInt(n, 10), nil
	case config.PrefixRandom:
		return xid.New().String(), nil
	case config.PrefixNone:
		return "", nil
	case config.PrefixFixed:
		return s.cfg.Prefix, nil
	default:
		return "", fmt.Errorf("unknown prefix strategy %q", s.cfg.PrefixStrategy)
	}
}

func (s *DefaultConnectionService) record(t transport.Transport, prefix, endpoint string) (*journal.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		db, err := journal.NewDB(s.cfg.Journal)
		if err != nil {
			return nil, err
		}
		s.journal = db
	}
	sessionID, err := s.journal.StartSession(prefix, s.cfg.Transport, endpoint)
	if err != nil {
		return nil, err
	}
	return journal.NewRecorder(t, s.journal, sessionID, s.log), nil
}

// Close closes the journal if one was opened.
func (s *DefaultConnectionService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// LoadBatch reads the requests of a batch file. The file holds either a
// JSON array of request objects or one request object per line; blank
// lines are skipped.
func (s *DefaultConnectionService) LoadBatch(path string) ([]models.Request, error) {
	content, err := s.fs.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch file %s is empty", path)
	}
	if trimmed[0] == '[' {
		reqs, err := codec.DecodeBatchRequest(trimmed)
		if err != nil {
			return nil, fmt.Errorf("batch file %s: %w", path, err)
		}
		return reqs, nil
	}

	var reqs []models.Request
	for i, line := range s.fs.SplitLines(content) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		req, err := codec.DecodeRequest([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("batch file %s line %d: %w", path, i+1, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// DialTransport opens the transport named by cfg.Transport.
func DialTransport(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (transport.Transport, string, error) {
	connectTimeout := time.Duration(cfg.ConnectTimeoutSec) * time.Second
	switch cfg.Transport {
	case config.TransportHTTP:
		t, err := transport.NewHTTPTransport(transport.HTTPOptions{
			URL:              cfg.URL,
			Headers:          cfg.Headers,
			RequestTimeout:   time.Duration(cfg.TimeoutSec) * time.Second,
			ConnectTimeout:   connectTimeout,
			Version:          cfg.HTTPVersion,
			FollowRedirects:  cfg.Redirects == "follow",
			Cookies:          cfg.Cookies,
			MaxResponseBytes: int64(cfg.MaxResponseSizeMB) * 1024 * 1024,
			Logger:           logger,
		})
		if err != nil {
			return nil, "", err
		}
		return t, t.URL(), nil
	case config.TransportStdio:
		// The peer outlives the dial context; it is stopped by Close.
		t, err := transport.StartProcess(context.WithoutCancel(ctx), transport.ProcessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
		}, logger)
		if err != nil {
			return nil, "", err
		}
		return t, strings.Join(append([]string{cfg.Command}, cfg.Args...), " "), nil
	case config.TransportWebSocket:
		t, err := transport.DialWebSocket(ctx, cfg.URL, cfg.Headers, connectTimeout, logger)
		if err != nil {
			return nil, "", err
		}
		return t, cfg.URL, nil
	default:
		return nil, "", fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
