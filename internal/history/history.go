package history

import (
	"context"
	"time"

	"github.com/paradrop/agent/internal/store"
)

// Event represents a completed update to be exported to external
// analytics/statistics systems.
type Event struct {
	OccurredAt time.Time    `json:"occurred_at"`
	RouterID   string       `json:"router_id"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for update history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
