package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one completed chat round: the request sent upstream and what came back
type Entry struct {
	ID           int64
	SessionID    string
	Timestamp    time.Time
	Personality  string
	Provider     string
	Model        string
	Input        interface{} // marshalled to JSON on write
	InputJSON    string      // populated on read
	Output       string
	InputTokens  int
	OutputTokens int
	ErrorKind    string
	Error        string
	Duration     time.Duration
}

// Recorder stores chat rounds
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every entry
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Store is a sqlite-backed Recorder
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chat_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	personality TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT,
	full_input TEXT NOT NULL,
	full_output TEXT NOT NULL,
	input_tokens INTEGER,
	output_tokens INTEGER,
	error_kind TEXT,
	error TEXT,
	duration_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_chat_audit_session ON chat_audit(session_id);
CREATE INDEX IF NOT EXISTS idx_chat_audit_timestamp ON chat_audit(timestamp);
`

// Open opens (creating if needed) the audit database at path.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	log.Printf("[AUDIT] Chat audit database initialized at %s", path)
	return &Store{db: db}, nil
}

// Record writes one entry
func (s *Store) Record(ctx context.Context, e Entry) error {
	inputJSON, err := json.Marshal(e.Input)
	if err != nil {
		log.Printf("[AUDIT] Failed to marshal input: %v", err)
		inputJSON = []byte(fmt.Sprintf("Error marshaling input: %v", err))
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	const query = `
		INSERT INTO chat_audit (
			session_id, timestamp, personality, provider, model,
			full_input, full_output, input_tokens, output_tokens,
			error_kind, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		e.SessionID, e.Timestamp.UTC(), e.Personality, e.Provider, e.Model,
		string(inputJSON), e.Output, e.InputTokens, e.OutputTokens,
		e.ErrorKind, e.Error, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record chat round: %w", err)
	}

	id, _ := result.LastInsertId()
	log.Printf("[AUDIT] Logged chat round ID=%d, Session=%s, Personality=%s, InputLen=%d, OutputLen=%d",
		id, e.SessionID, e.Personality, len(inputJSON), len(e.Output))
	return nil
}

// History returns every entry for a session, oldest first
func (s *Store) History(ctx context.Context, sessionID string) ([]Entry, error) {
	const query = `
		SELECT id, session_id, timestamp, personality, provider, model,
		       full_input, full_output, input_tokens, output_tokens,
		       error_kind, error, duration_ms
		FROM chat_audit
		WHERE session_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chat audit: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			model      sql.NullString
			errorKind  sql.NullString
			errText    sql.NullString
			durationMS int64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Timestamp, &e.Personality, &e.Provider, &model,
			&e.InputJSON, &e.Output, &e.InputTokens, &e.OutputTokens,
			&errorKind, &errText, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan chat audit row: %w", err)
		}
		e.Model = model.String
		e.ErrorKind = errorKind.String
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored rounds
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_audit`).Scan(&n)
	return n, err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Store)(nil)
)
