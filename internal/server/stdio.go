package server

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

const maxLineSize = 32 * 1024 * 1024

// StdioHandler serves the processor over newline framed input/output.
type StdioHandler struct {
	processor *Processor
	log       zerolog.Logger
}

// NewStdioHandler creates a new StdioHandler.
func NewStdioHandler(p *Processor, logger zerolog.Logger) *StdioHandler {
	return &StdioHandler{
		processor: p,
		log:       logger.With().Str("component", "stdio_server").Logger(),
	}
}

// Start reads one payload per line from input and writes one reply line
// to output for each payload that needs a reply. It returns when input
// ends or ctx is cancelled.
func (h *StdioHandler) Start(ctx context.Context, input io.Reader, output io.Writer) error {
	h.log.Debug().Msg("Starting stdio JSON-RPC handler")
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 { // Skip empty lines
			continue
		}
		body, _ := h.processor.Process(ctx, line)
		if body == nil {
			continue
		}
		if _, err := output.Write(append(body, '\n')); err != nil {
			h.log.Error().Err(err).Msg("Error writing JSON-RPC response to output")
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		h.log.Error().Err(err).Msg("Error reading from stdio")
		return err
	}
	h.log.Debug().Msg("Stdio JSON-RPC handler finished")
	return nil
}
