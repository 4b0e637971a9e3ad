package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/paradrop/agent/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS update_result(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token INTEGER NOT NULL,
			update_id TEXT NOT NULL,
			class TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_result_name ON update_result(name);`,
		`CREATE INDEX IF NOT EXISTS idx_update_result_completed ON update_result(completed_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordResult(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_result(token, update_id, class, type, name, success, message, started_at, completed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Token, rec.UpdateID, rec.Class, rec.Type, rec.Name,
		rec.Success, rec.Message, rec.StartedAt.UTC(), rec.CompletedAt.UTC())
	return err
}

func (s *DB) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, update_id, class, type, name, success, message, started_at, completed_at
		FROM update_result
		ORDER BY completed_at DESC, id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Token, &r.UpdateID, &r.Class, &r.Type, &r.Name,
			&r.Success, &r.Message, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
