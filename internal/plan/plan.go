// Package plan holds the ordered, reversible action sequences that execute
// one update. Capability modules contribute entries; the executor runs them
// in priority order and unwinds completed work when a later action fails.
package plan

import (
	"context"
	"sort"
)

// Action is one side effect of a plan. All side effects of an update live in
// actions; plan generation itself must stay effect-free so aborting before
// execution needs no cleanup.
type Action func(ctx context.Context) error

// Entry pairs an action with the rollback that undoes it. Rollback may be
// nil for actions with nothing to undo (e.g. cache writes overwritten by the
// next update).
type Entry struct {
	Priority int
	Desc     string
	Action   Action
	Rollback Action
}

// Plans accumulates entries for a single update. It lives only for the
// duration of that update's execution.
type Plans struct {
	entries  []Entry
	executed int // count of entries whose Action has succeeded
	sorted   bool
}

// Add appends an entry.
func (p *Plans) Add(e Entry) {
	p.entries = append(p.entries, e)
}

// AddAction is shorthand for Add with the common fields.
func (p *Plans) AddAction(priority int, desc string, action, rollback Action) {
	p.Add(Entry{Priority: priority, Desc: desc, Action: action, Rollback: rollback})
}

// Len returns the number of entries contributed so far.
func (p *Plans) Len() int { return len(p.entries) }

// ordered sorts entries by non-decreasing priority, ties preserving
// contribution order.
func (p *Plans) ordered() []Entry {
	if !p.sorted {
		sort.SliceStable(p.entries, func(i, j int) bool {
			return p.entries[i].Priority < p.entries[j].Priority
		})
		p.sorted = true
	}
	return p.entries
}
