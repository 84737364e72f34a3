package server

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Transcript records relayed chat messages in a SQLite database
type Transcript struct {
	db *sql.DB
}

// TranscriptEntry is one recorded message
type TranscriptEntry struct {
	ID      int64     `json:"id"`
	From    string    `json:"from"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// OpenTranscript opens or creates the transcript database
func OpenTranscript(path string) (*Transcript, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}

	// Writes are serialized by the relay
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	t := &Transcript{db: db}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return t, nil
}

// initSchema creates tables if they don't exist
func (t *Transcript) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS Message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);
`
	_, err := t.db.Exec(schema)
	return err
}

// Record appends a relayed message
func (t *Transcript) Record(from, message string, sentAt time.Time) error {
	_, err := t.db.Exec(`
		INSERT INTO Message (sender, content, sent_at) VALUES (?, ?, ?)
	`, from, message, sentAt.UnixMilli())
	return err
}

// Recent returns up to limit of the latest messages, oldest first
func (t *Transcript) Recent(limit int) ([]TranscriptEntry, error) {
	rows, err := t.db.Query(`
		SELECT id, sender, content, sent_at FROM (
			SELECT id, sender, content, sent_at FROM Message ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var sentAt int64
		if err := rows.Scan(&e.ID, &e.From, &e.Message, &sentAt); err != nil {
			return nil, err
		}
		e.SentAt = time.UnixMilli(sentAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the transcript database
func (t *Transcript) Close() error {
	return t.db.Close()
}
