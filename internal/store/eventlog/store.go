package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kestrel/internal/gateway/database"

	_ "modernc.org/sqlite"
)

// Store is the append-only telemetry event log, kept in its own SQLite file
// so heavy event traffic never contends with the position ledger.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("event log path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_uuid TEXT,
			name TEXT NOT NULL,
			severity TEXT NOT NULL,
			mint TEXT,
			signature TEXT,
			payload TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_mint ON events(mint, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("event log schema failed: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, rec database.EventRecord) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("event log store not initialized")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (event_uuid, name, severity, mint, signature, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(rec.Severity), rec.Mint, rec.Signature,
		string(rec.Payload), created.UnixMilli())
	return err
}

func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]database.EventRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("event log store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT event_uuid, name, severity, mint, signature, payload, created_at
		FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.EventRecord
	for rows.Next() {
		var rec database.EventRecord
		var severity, payload string
		var createdMs int64
		if err := rows.Scan(&rec.ID, &rec.Name, &severity, &rec.Mint, &rec.Signature, &payload, &createdMs); err != nil {
			return nil, err
		}
		rec.Severity = database.EventSeverity(severity)
		rec.Payload = []byte(payload)
		rec.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var _ database.EventStore = (*Store)(nil)
