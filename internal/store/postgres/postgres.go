package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/paradrop/agent/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS update_result(
			id BIGSERIAL PRIMARY KEY,
			token BIGINT NOT NULL,
			update_id TEXT NOT NULL,
			class TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_result_name ON update_result(name);`,
		`CREATE INDEX IF NOT EXISTS idx_update_result_completed ON update_result(completed_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordResult(ctx context.Context, rec store.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO update_result(token, update_id, class, type, name, success, message, started_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9);`,
		rec.Token, rec.UpdateID, rec.Class, rec.Type, rec.Name,
		rec.Success, rec.Message, rec.StartedAt.UTC(), rec.CompletedAt.UTC())
	return err
}

func (p *DB) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, token, update_id, class, type, name, success, message, started_at, completed_at
		FROM update_result
		ORDER BY completed_at DESC, id DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
