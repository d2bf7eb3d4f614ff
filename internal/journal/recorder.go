package journal

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"jsonrpc-client/internal/transport"
)

// Recorder is a transport that writes every exchange of the transport it
// wraps to the journal. A failure to record is logged and never fails
// the exchange itself.
type Recorder struct {
	next      transport.Transport
	db        *DB
	sessionID string
	seq       atomic.Int64
	log       zerolog.Logger
}

// NewRecorder wraps next.
func NewRecorder(next transport.Transport, db *DB, sessionID string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		next:      next,
		db:        db,
		sessionID: sessionID,
		log:       logger.With().Str("component", "journal").Str("session_id", sessionID).Logger(),
	}
}

// SessionID returns the journal session the exchanges are recorded under.
func (r *Recorder) SessionID() string { return r.sessionID }

// Send forwards payload and records the exchange.
func (r *Recorder) Send(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()
	body, err := r.next.Send(ctx, payload)
	r.record(KindSend, payload, body, err, time.Since(start))
	return body, err
}

// Notify forwards payload without reading a reply when the wrapped
// transport supports it.
func (r *Recorder) Notify(ctx context.Context, payload []byte) error {
	start := time.Now()
	var err error
	if n, ok := r.next.(transport.Notifier); ok {
		err = n.Notify(ctx, payload)
	} else {
		_, err = r.next.Send(ctx, payload)
	}
	r.record(KindNotify, payload, nil, err, time.Since(start))
	return err
}

// Close closes the wrapped transport if it can be closed.
func (r *Recorder) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Recorder) record(kind string, payload, body []byte, sendErr error, d time.Duration) {
	ex := &Exchange{
		SessionID: r.sessionID,
		SeqIndex:  r.seq.Add(1) - 1,
		Kind:      kind,
		Request:   string(payload),
		Response:  string(body),
		Duration:  d,
	}
	if sendErr != nil {
		ex.Error = sendErr.Error()
	}
	if err := r.db.InsertExchange(ex); err != nil {
		r.log.Warn().Err(err).Msg("Failed to record exchange")
	}
}
