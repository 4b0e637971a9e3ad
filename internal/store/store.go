// Package store persists update outcomes so the device keeps an auditable
// record of what it applied, across restarts.
package store

import (
	"context"
	"time"
)

// Record is one completed update's outcome. Token is the locally generated
// update token; UpdateID is the server-side identifier and is empty for
// updates that entered through the local API.
type Record struct {
	ID          int64
	Token       int64
	UpdateID    string
	Class       string
	Type        string
	Name        string
	Success     bool
	Message     string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store is the persistence interface for update outcomes.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordResult(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
