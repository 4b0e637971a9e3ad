package plan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paradrop/agent/internal/metrics"
)

// Execute runs every action in priority order and stops at the first
// failure. The returned error wraps the failing entry's description. After a
// failure the caller is expected to call Abort to unwind.
func (p *Plans) Execute(ctx context.Context) error {
	for _, e := range p.ordered() {
		if e.Action != nil {
			if err := e.Action(ctx); err != nil {
				return fmt.Errorf("%s: %w", e.Desc, err)
			}
		}
		p.executed++
		metrics.IncPlanAction()
	}
	return nil
}

// Abort invokes the rollback of every entry whose action already succeeded,
// in strictly reverse execution order. Rollback is best-effort: a rollback
// failure is logged and counted, never escalated, so the original action
// failure remains authoritative.
func (p *Plans) Abort(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	entries := p.ordered()
	for i := p.executed - 1; i >= 0; i-- {
		e := entries[i]
		if e.Rollback == nil {
			continue
		}
		metrics.IncRollback()
		if err := e.Rollback(ctx); err != nil {
			metrics.IncRollbackFailure()
			logger.Error("rollback failed", "step", e.Desc, "err", err)
		}
	}
	p.executed = 0
}
