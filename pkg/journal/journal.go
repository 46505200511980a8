// Package journal records every exchange the bot answers in a local
// SQLite database: who asked what, which evidence source answered, how
// long it took. The journal is debugging infrastructure: a failed write
// is logged, never fatal to the bot.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Journal is a SQLite-backed exchange log.
type Journal struct {
	db   *sql.DB
	path string
}

// Exchange is one answered question.
type Exchange struct {
	ID           int64
	Conversation string
	Sender       string
	Question     string
	Source       string // "vector", "direct", "pgvector"
	Answer       string
	Chunks       int
	LatencyMS    int64
	AskedAt      time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation TEXT NOT NULL,
	sender       TEXT NOT NULL,
	question     TEXT NOT NULL,
	source       TEXT NOT NULL,
	answer       TEXT NOT NULL,
	chunks       INTEGER NOT NULL DEFAULT 0,
	latency_ms   INTEGER NOT NULL DEFAULT 0,
	asked_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_asked_at ON exchanges(asked_at);
`

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	// WAL mode for concurrent reads from the HTTP API while a bot writes
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	j := &Journal{db: db, path: path}
	slog.Info("journal opened", "path", path, "exchanges", j.Count())
	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Record stores an exchange. AskedAt defaults to now when zero.
func (j *Journal) Record(ex Exchange) (int64, error) {
	askedAt := ex.AskedAt
	if askedAt.IsZero() {
		askedAt = time.Now().UTC()
	}

	result, err := j.db.Exec(
		`INSERT INTO exchanges (conversation, sender, question, source, answer, chunks, latency_ms, asked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.Conversation, ex.Sender, ex.Question, ex.Source, ex.Answer,
		ex.Chunks, ex.LatencyMS, askedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("record exchange: %w", err)
	}

	id, _ := result.LastInsertId()
	slog.Debug("exchange recorded", "id", id, "source", ex.Source, "conversation", ex.Conversation)
	return id, nil
}

// Recent returns the most recent exchanges, newest first.
func (j *Journal) Recent(limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.Query(
		`SELECT id, conversation, sender, question, source, answer, chunks, latency_ms, asked_at
		 FROM exchanges ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var ex Exchange
		var askedAt string
		if err := rows.Scan(&ex.ID, &ex.Conversation, &ex.Sender, &ex.Question,
			&ex.Source, &ex.Answer, &ex.Chunks, &ex.LatencyMS, &askedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.AskedAt, _ = time.Parse(time.RFC3339, askedAt)
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// Count returns the total number of recorded exchanges.
func (j *Journal) Count() int {
	var count int
	j.db.QueryRow("SELECT COUNT(*) FROM exchanges").Scan(&count)
	return count
}
