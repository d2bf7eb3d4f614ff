package main

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"jsonrpc-client/internal/client"
	"jsonrpc-client/internal/config"
	"jsonrpc-client/internal/errors"
	"jsonrpc-client/internal/filesystem"
	"jsonrpc-client/internal/lock"
	"jsonrpc-client/internal/metrics"
	"jsonrpc-client/internal/models"
	"jsonrpc-client/internal/server"
	"jsonrpc-client/internal/service"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const shutdownTimeout = 10 * time.Second

const usageText = `Usage: jsonrpc-client [flags] <command> [arguments]

Commands:
  call <method> [params-json]     send a request and print its result
  notify <method> [params-json]   send a notification
  batch <file>                    send the requests of a JSON array or JSON Lines file
  serve                           run the loopback server (HTTP, or stdio with -transport stdio)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fsAdapter := filesystem.NewDefaultFileSystemAdapter()
	cfg, rest, err := config.ParseFlags(args, fsAdapter, stderr)
	if err != nil {
		if stdErrors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stderr, usageText)
			return exitOK
		}
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitUsage
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}

	command, cmdArgs := rest[0], rest[1:]
	if command == "serve" {
		return serve(ctx, cfg, stdin, stdout, logger)
	}

	switch command {
	case "call", "notify":
		if len(cmdArgs) < 1 || len(cmdArgs) > 2 {
			fmt.Fprintf(stderr, "%s needs a method and optional params\n", command)
			return exitUsage
		}
	case "batch":
		if len(cmdArgs) != 1 {
			fmt.Fprintln(stderr, "batch needs exactly one file")
			return exitUsage
		}
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n%s", command, usageText)
		return exitUsage
	}

	svc, err := service.NewDefaultConnectionService(fsAdapter, lock.NewLockManager(), cfg, service.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing journal failed")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSec+cfg.ConnectTimeoutSec)*time.Second)
	defer cancel()
	conn, err := svc.Connect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Connect failed")
		return exitFailure
	}
	defer conn.Close()

	switch command {
	case "call":
		err = runCall(ctx, conn, cmdArgs, cfg.Query, stdout)
	case "notify":
		err = runNotify(ctx, conn, cmdArgs)
	case "batch":
		err = runBatch(ctx, svc, conn, cmdArgs[0], stdout, logger)
	}
	if err != nil {
		reportError(logger, err)
		return exitFailure
	}
	return exitOK
}

func newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	out := w
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// parseParams reads the optional params argument. An absent argument
// means the request carries no params member.
func parseParams(args []string) (*models.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}
	p, err := models.ParamsFromJSON([]byte(args[0]))
	if err != nil {
		return nil, err
	}
	return ptr.Ptr(p), nil
}

func runCall(ctx context.Context, conn *client.Connection, args []string, query string, stdout io.Writer) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	result, err := conn.Call(ctx, args[0], params)
	if err != nil {
		return err
	}
	if query != "" {
		return applyQuery(query, result, stdout)
	}
	_, err = fmt.Fprintf(stdout, "%s\n", result)
	return err
}

func runNotify(ctx context.Context, conn *client.Connection, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	return conn.Notify(ctx, args[0], params)
}

// batchLine is the printed outcome of one batch entry.
type batchLine struct {
	ID     models.Identifier `json:"id"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func runBatch(ctx context.Context, svc service.ConnectionService, conn *client.Connection, path string, stdout io.Writer, logger zerolog.Logger) error {
	reqs, err := svc.LoadBatch(path)
	if err != nil {
		return err
	}
	batch, err := conn.CallBatch(ctx, reqs)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	for _, r := range batch.Results {
		line := batchLine{ID: r.ID, Result: r.Value}
		if r.Err != nil {
			line.Result = nil
			line.Error = r.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	for _, res := range batch.Unmatched {
		logger.Warn().Str("id", res.ID().String()).Msg("Response matched no request of the batch")
	}
	return batch.Err()
}

func reportError(logger zerolog.Logger, err error) {
	var remote *errors.RemoteError
	if stdErrors.As(err, &remote) {
		event := logger.Error().Int("code", remote.Code).Str("message", remote.Message)
		if len(remote.Data) > 0 {
			event = event.RawJSON("data", remote.Data)
		}
		event.Msg("Server returned an error")
		return
	}
	logger.Error().Err(err).Msg("Request failed")
}

func serve(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) int {
	if err := cfg.ValidateServer(); err != nil {
		logger.Error().Err(err).Msg("Configuration error")
		return exitUsage
	}
	m := metrics.New()
	processor := server.NewProcessor(m, logger)

	if cfg.Transport == config.TransportStdio {
		if err := server.NewStdioHandler(processor, logger).Start(ctx, stdin, stdout); err != nil && !stdErrors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Stdio server stopped")
			return exitFailure
		}
		return exitOK
	}

	handler := server.NewHTTPHandler(processor, m, logger)
	done := make(chan error, 1)
	go func() { done <- handler.ListenAndServe(cfg.Listen) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
			return exitFailure
		}
		return exitOK
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := handler.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			return exitFailure
		}
		<-done
		return exitOK
	}
}
