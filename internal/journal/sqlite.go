// Package journal records every payload a client sends and every body it
// gets back in a SQLite database, grouped by client session.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Exchange kinds.
const (
	KindSend   = "send"
	KindNotify = "notify"
)

// Exchange is one recorded round trip or one-way delivery.
type Exchange struct {
	ID        string
	SessionID string
	SeqIndex  int64
	Kind      string
	Request   string
	Response  string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// NewDB opens the journal at dbPath and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// WAL lets several client processes append to one journal.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("enabling WAL mode: %v; closing journal: %w", err, closeErr)
		}
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("executing schema: %v; closing journal: %w", err, closeErr)
		}
		return nil, fmt.Errorf("executing schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// StartSession registers a client session and returns its id.
func (db *DB) StartSession(prefix, transportName, endpoint string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO sessions (id, prefix, transport, endpoint, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, prefix, transportName, endpoint, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// InsertExchange stores ex. An empty ID is filled in.
func (db *DB) InsertExchange(ex *Exchange) error {
	if ex.SessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	res, err := db.conn.Exec(`
		INSERT INTO exchanges (
			id, session_id, seq_index, kind, request, response, error, duration_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.SeqIndex, ex.Kind, ex.Request,
		nullable(ex.Response), nullable(ex.Error),
		ex.Duration.Milliseconds(), ex.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("failed to insert exchange: rows affected = %d", rows)
	}
	return nil
}

// Exchanges returns the exchanges of a session in the order they happened.
func (db *DB) Exchanges(sessionID string) ([]Exchange, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, seq_index, kind, request, response, error, duration_ms, timestamp
		FROM exchanges WHERE session_id = ? ORDER BY seq_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			ex         Exchange
			response   sql.NullString
			errText    sql.NullString
			durationMs int64
			timestamp  string
		)
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.SeqIndex, &ex.Kind, &ex.Request,
			&response, &errText, &durationMs, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		ex.Response = response.String
		ex.Error = errText.String
		ex.Duration = time.Duration(durationMs) * time.Millisecond
		if ex.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp of exchange %s: %w", ex.ID, err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// CountExchanges returns the number of exchanges across all sessions.
func (db *DB) CountExchanges() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM exchanges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting exchanges: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
