// Package memory provides persistent conversation transcript storage.
package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Turn is one stored conversation turn.
type Turn struct {
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a SQLite-backed transcript store. It mirrors the agent's
// in-memory history to disk so sessions can be reviewed after the
// process exits; it is not read back into the live conversation.
type Store struct {
	db       *sql.DB
	maxTurns int
}

// Open opens (creating if necessary) the transcript database at dbPath.
func Open(dbPath string, maxTurns int) (*Store, error) {
	if maxTurns <= 0 {
		maxTurns = 200
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{
		db:       db,
		maxTurns: maxTurns,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSession inserts the session row if it does not exist.
func (s *Store) ensureSession(sessionID string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendTurn records one conversation turn for a session.
func (s *Store) AppendTurn(sessionID, role, content string) error {
	now := time.Now()
	turnID, _ := uuid.NewV7()

	if err := s.ensureSession(sessionID, now); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO turns (id, session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, turnID.String(), sessionID, role, content, now)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, now, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return nil
}

// Turns retrieves the stored turns for a session in append order, up to
// the configured cap.
func (s *Store) Turns(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content, timestamp
		FROM turns
		WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, sessionID, s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear removes a session and its turns.
func (s *Store) Clear(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Stats reports row counts for diagnostics.
func (s *Store) Stats() map[string]any {
	stats := map[string]any{}

	var sessions, turns int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err == nil {
		stats["sessions"] = sessions
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turns); err == nil {
		stats["turns"] = turns
	}
	return stats
}
