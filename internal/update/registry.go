package update

import (
	"github.com/paradrop/agent/internal/plan"
)

// Module is a capability module contributing plan entries for the update
// classes and types it registered for. GeneratePlans must be free of side
// effects; everything effectful lives in the returned actions, which is what
// makes rollback possible. A module with nothing to contribute adds no
// entries and returns nil.
type Module interface {
	Name() string
	GeneratePlans(u *Update, p *plan.Plans) error
}

// Op names one (class, type) combination a module handles.
type Op struct {
	Class Class
	Type  string
}

type registration struct {
	module Module
	ops    map[Op]struct{}
}

// Registry maps (class, type) combinations to capability modules. Modules
// are consulted in registration order, which fixes plan generation order
// deterministically.
type Registry struct {
	regs []registration
}

// Register adds a module for the given operations.
func (r *Registry) Register(m Module, ops ...Op) {
	set := make(map[Op]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	r.regs = append(r.regs, registration{module: m, ops: set})
}

// Supports reports whether any module handles the combination. Admission
// uses this to reject items the device cannot act on.
func (r *Registry) Supports(class Class, typ string) bool {
	op := Op{Class: class, Type: typ}
	for _, reg := range r.regs {
		if _, ok := reg.ops[op]; ok {
			return true
		}
	}
	return false
}

// modulesFor returns the modules relevant to the update, in registration
// order.
func (r *Registry) modulesFor(u *Update) []Module {
	op := Op{Class: u.Class, Type: u.Type}
	var out []Module
	for _, reg := range r.regs {
		if _, ok := reg.ops[op]; ok {
			out = append(out, reg.module)
		}
	}
	return out
}
