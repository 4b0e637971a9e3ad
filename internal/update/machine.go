package update

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paradrop/agent/internal/metrics"
	"github.com/paradrop/agent/internal/plan"
)

// Machine drives one update at a time through the plan pipeline:
// generate -> execute -> (abort on failure) -> complete.
type Machine struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMachine builds a machine over the given module registry. The registry
// is injected here and everywhere else it is needed; there is no process-wide
// mutable registry state.
func NewMachine(registry *Registry, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{registry: registry, logger: logger}
}

// Registry exposes the injected registry for admission checks.
func (m *Machine) Registry() *Registry { return m.registry }

// Execute runs the update to a terminal state and returns its result.
// Once begun there is no mid-plan cancellation: callers may stop waiting on
// the future, but the plan runs until completed(success) or
// completed(failure).
func (m *Machine) Execute(ctx context.Context, u *Update) Result {
	log := m.logger.With("update", u.String())

	plans := &plan.Plans{}
	for _, mod := range m.registry.modulesFor(u) {
		if err := mod.GeneratePlans(u, plans); err != nil {
			// Generation failure is pre-execution: no action has run, so
			// there is nothing to roll back.
			msg := fmt.Sprintf("%s: plan generation failed: %v", mod.Name(), err)
			log.Warn("update aborted", "module", mod.Name(), "err", err)
			return m.complete(u, false, msg)
		}
	}

	if err := plans.Execute(ctx); err != nil {
		log.Warn("plan execution failed, rolling back", "err", err)
		plans.Abort(ctx, log)
		return m.complete(u, false, err.Error())
	}

	log.Info("update completed", "steps", plans.Len())
	return m.complete(u, true, fmt.Sprintf("%s %s completed", u.Type, u.Name))
}

func (m *Machine) complete(u *Update, success bool, message string) Result {
	u.Complete(success, message)
	metrics.IncUpdateCompleted(string(u.Class), u.Type, success)
	return Result{Success: success, Message: message}
}
