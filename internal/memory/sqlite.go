package memory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed memory store. Every turn is kept in a
// log table; Reset archives a conversation's turns instead of deleting
// them, so they leave the window but stay available for review.
type SQLiteStore struct {
	db     *sql.DB
	window int
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string, window int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := newSQLiteStore(db, window)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLiteStore(db *sql.DB, window int) (*SQLiteStore, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &SQLiteStore{db: db, window: window}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, archived, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds a turn to the log.
func (s *SQLiteStore) Append(conversationID string, turn Turn) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate turn id: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, conversation_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), conversationID, turn.Role, turn.Content, turn.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// History returns the most recent unarchived turns in original order.
func (s *SQLiteStore) History(conversationID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content, timestamp FROM (
			SELECT seq, role, content, timestamp
			FROM turns
			WHERE conversation_id = ? AND archived = FALSE
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, conversationID, s.window)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Reset archives the conversation's turns.
func (s *SQLiteStore) Reset(conversationID string) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	_, err := s.db.Exec(`
		UPDATE turns SET archived = TRUE
		WHERE conversation_id = ? AND archived = FALSE
	`, conversationID)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return nil
}

// Stats returns memory statistics.
func (s *SQLiteStore) Stats() map[string]any {
	var convCount, turnCount, archivedCount int

	_ = s.db.QueryRow(`SELECT COUNT(DISTINCT conversation_id) FROM turns WHERE archived = FALSE`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE archived = FALSE`).Scan(&turnCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE archived = TRUE`).Scan(&archivedCount)

	return map[string]any{
		"conversations": convCount,
		"turns":         turnCount,
		"archived":      archivedCount,
		"window":        s.window,
		"storage":       "sqlite",
	}
}
