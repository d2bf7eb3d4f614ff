package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const maxLineSize = 32 * 1024 * 1024

// ProcessConfig describes a peer process spoken to over its stdin/stdout.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     []string
}

// StdioTransport exchanges newline framed JSON text over a reader/writer
// pair: one line out, one line back. Exchanges are serialized.
type StdioTransport struct {
	mu      sync.Mutex
	writer  io.Writer
	scanner *bufio.Scanner
	closers []func() error
	closed  atomic.Bool
	log     zerolog.Logger
}

// NewStdioTransport creates a transport over r and w. If either of them
// is an io.Closer it is closed by Close.
func NewStdioTransport(r io.Reader, w io.Writer, logger *zerolog.Logger) *StdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	t := &StdioTransport{writer: w, scanner: scanner, log: zerolog.Nop()}
	if logger != nil {
		t.log = logger.With().Str("component", "stdio_transport").Logger()
	}
	if c, ok := w.(io.Closer); ok {
		t.closers = append(t.closers, c.Close)
	}
	if c, ok := r.(io.Closer); ok {
		t.closers = append(t.closers, c.Close)
	}
	return t
}

// StartProcess spawns cfg.Command and returns a transport over its
// stdin and stdout. Stderr is passed through to ours.
func StartProcess(ctx context.Context, cfg ProcessConfig, logger *zerolog.Logger) (*StdioTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("missing command")
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	t := NewStdioTransport(stdout, stdin, logger)
	t.closers = append(t.closers, func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	})
	t.log.Debug().Str("command", cfg.Command).Int("pid", cmd.Process.Pid).Msg("Peer process started")
	return t, nil
}

// Send writes payload as one line and returns the next non-empty line.
// If ctx ends while waiting, the transport is closed: a late answer would
// otherwise be taken for the reply to the next exchange.
func (t *StdioTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeLine(payload); err != nil {
		return nil, err
	}

	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := t.readLine()
		done <- result{line, err}
	}()

	select {
	case r := <-done:
		return r.line, r.err
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}
}

// Notify writes payload as one line without waiting for an answer.
func (t *StdioTransport) Notify(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLine(payload)
}

// Close releases the reader, the writer and the peer process if any.
func (t *StdioTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	var firstErr error
	for _, c := range t.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *StdioTransport) writeLine(payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	line := payload
	if bytes.ContainsAny(line, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return fmt.Errorf("payload contains a line break and is not JSON: %w", err)
		}
		line = buf.Bytes()
	}
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	out = append(out, '\n')
	if _, err := t.writer.Write(out); err != nil {
		return fmt.Errorf("writing to peer: %w", err)
	}
	t.log.Trace().Int("bytes", len(out)).Msg("Line written")
	return nil
}

func (t *StdioTransport) readLine() ([]byte, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 { // Skip empty lines
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading from peer: %w", err)
	}
	return nil, io.EOF
}
