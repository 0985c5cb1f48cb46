// ABOUTME: SQLite-backed transcript store recording every history append per session.
// ABOUTME: Provides session listing for -list-sessions and history reload for -resume.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/genai"
)

// ErrSessionNotFound is returned when a session id has no transcript.
var ErrSessionNotFound = errors.New("session not found")

// titleLimit caps the derived session title, in runes.
const titleLimit = 80

// SessionSummary is one row of the session list, matching the -list-sessions
// output shape.
type SessionSummary struct {
	SessionID string
	Model     string
	Title     string
	CreatedAt string
	UpdatedAt string
	Messages  int
}

// TranscriptStore persists conversation history to SQLite. It is a durable
// mirror of the in-memory comprehensive history, not the source of truth for
// a live session.
type TranscriptStore struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

var _ agent.HistoryRecorder = (*TranscriptStore)(nil)

// Open opens or creates the transcript database at the given path and runs
// migrations to ensure the schema is up to date.
func Open(path string) (*TranscriptStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			model TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &TranscriptStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}

// RecordContent appends one history entry to the session's transcript,
// creating the session row on first use. The first user message names the
// session in listings.
func (s *TranscriptStore) RecordContent(sessionID string, content *genai.Content) error {
	if sessionID == "" {
		return fmt.Errorf("record content: session id required")
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)

	if _, err := s.db.Exec(
		`INSERT INTO sessions (session_id, created_at, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if content.Role == genai.RoleUser {
		if title := deriveTitle(content); title != "" {
			if _, err := s.db.Exec(
				"UPDATE sessions SET title = ? WHERE session_id = ? AND title = ''",
				title, sessionID); err != nil {
				return fmt.Errorf("set session title: %w", err)
			}
		}
	}

	if _, err := s.db.Exec(
		"INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		sessionID, content.Role, string(data), now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// SetModel records which model a session ran with, creating the session row
// if it does not exist yet.
func (s *TranscriptStore) SetModel(sessionID, model string) error {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET model = excluded.model`,
		sessionID, model, now, now)
	if err != nil {
		return fmt.Errorf("set session model: %w", err)
	}
	return nil
}

// History loads a session's full transcript in append order, ready to seed a
// resumed session.
func (s *TranscriptStore) History(sessionID string) ([]*genai.Content, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM sessions WHERE session_id = ?", sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT content FROM messages WHERE session_id = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []*genai.Content
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		var content genai.Content
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		history = append(history, &content)
	}
	return history, rows.Err()
}

// ListSessions returns all recorded sessions, most recently updated first.
func (s *TranscriptStore) ListSessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT s.session_id, s.model, s.title, s.created_at, s.updated_at, COUNT(m.id)
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.session_id
		 GROUP BY s.session_id
		 ORDER BY s.updated_at DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Model, &sum.Title,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.Messages); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// deriveTitle squeezes a content's text into a single short line.
func deriveTitle(content *genai.Content) string {
	title := strings.Join(strings.Fields(content.Text()), " ")
	if utf8.RuneCountInString(title) <= titleLimit {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleLimit])
}
