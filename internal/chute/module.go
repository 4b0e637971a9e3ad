package chute

import (
	"context"
	"errors"
	"fmt"

	"github.com/paradrop/agent/internal/plan"
	"github.com/paradrop/agent/internal/update"
)

// Plan priorities inside one chute update: registry writes settle before the
// runtime is touched, so a runtime failure still finds a consistent record
// to roll back.
const (
	prioRegistry = 5
	prioRuntime  = 10
)

// Runtime starts and stops the sandboxed application itself. The concrete
// container mechanism is out of scope; the daemon wires an adapter.
type Runtime interface {
	Start(ctx context.Context, c *Chute) error
	Stop(ctx context.Context, c *Chute) error
}

// NoopRuntime satisfies Runtime without side effects, for tests and for
// devices where execution is delegated elsewhere.
type NoopRuntime struct{}

func (NoopRuntime) Start(context.Context, *Chute) error { return nil }
func (NoopRuntime) Stop(context.Context, *Chute) error  { return nil }

// Module is the capability module for CHUTE-class updates.
type Module struct {
	store   Store
	runtime Runtime
}

func NewModule(store Store, runtime Runtime) *Module {
	return &Module{store: store, runtime: runtime}
}

func (m *Module) Name() string { return "chute" }

// Ops lists the (class, type) combinations this module handles, for
// registration.
func (m *Module) Ops() []update.Op {
	types := []string{
		update.TypeCreate, update.TypeUpdate, update.TypeDelete,
		update.TypeStart, update.TypeStop, update.TypeRestart,
	}
	ops := make([]update.Op, 0, len(types))
	for _, t := range types {
		ops = append(ops, update.Op{Class: update.ClassChute, Type: t})
	}
	return ops
}

// GeneratePlans validates preconditions (name collisions, address and SSID
// availability) and contributes registry and runtime actions. It performs
// reads only; every mutation lives in a returned action.
func (m *Module) GeneratePlans(u *update.Update, p *plan.Plans) error {
	if u.Name == "" {
		return errors.New("chute name required")
	}
	switch u.Type {
	case update.TypeCreate:
		return m.planCreate(u, p)
	case update.TypeUpdate:
		return m.planUpdate(u, p)
	case update.TypeDelete:
		return m.planDelete(u, p)
	case update.TypeStart:
		return m.planSetRunning(u, p, true)
	case update.TypeStop:
		return m.planSetRunning(u, p, false)
	case update.TypeRestart:
		return m.planRestart(u, p)
	default:
		return fmt.Errorf("unhandled update type %q", u.Type)
	}
}

func (m *Module) planCreate(u *update.Update, p *plan.Plans) error {
	if _, err := m.store.Get(u.Name); err == nil {
		return fmt.Errorf("chute %s already exists", u.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	desired := chuteFromPayload(u)
	if err := m.checkConflicts(desired); err != nil {
		return err
	}
	desired.Running = true

	p.AddAction(prioRegistry, "create chute record",
		func(context.Context) error { return m.store.Save(desired) },
		func(context.Context) error { return m.store.Delete(desired.Name) })
	p.AddAction(prioRuntime, "start chute runtime",
		func(ctx context.Context) error { return m.runtime.Start(ctx, desired) },
		func(ctx context.Context) error { return m.runtime.Stop(ctx, desired) })
	return nil
}

func (m *Module) planUpdate(u *update.Update, p *plan.Plans) error {
	old, err := m.store.Get(u.Name)
	if err != nil {
		return err
	}
	desired := chuteFromPayload(u)
	mergeFromOld(desired, old)
	if err := m.checkConflicts(desired); err != nil {
		return err
	}
	desired.Running = old.Running

	p.AddAction(prioRegistry, "update chute record",
		func(context.Context) error { return m.store.Save(desired) },
		func(context.Context) error { return m.store.Save(old) })
	if old.Running {
		p.AddAction(prioRuntime, "restart chute runtime",
			func(ctx context.Context) error {
				if err := m.runtime.Stop(ctx, old); err != nil {
					return err
				}
				return m.runtime.Start(ctx, desired)
			},
			func(ctx context.Context) error {
				_ = m.runtime.Stop(ctx, desired)
				return m.runtime.Start(ctx, old)
			})
	}
	return nil
}

func (m *Module) planDelete(u *update.Update, p *plan.Plans) error {
	old, err := m.store.Get(u.Name)
	if err != nil {
		return err
	}
	if old.Running {
		p.AddAction(prioRegistry, "stop chute runtime",
			func(ctx context.Context) error { return m.runtime.Stop(ctx, old) },
			func(ctx context.Context) error { return m.runtime.Start(ctx, old) })
	}
	p.AddAction(prioRuntime, "delete chute record",
		func(context.Context) error { return m.store.Delete(old.Name) },
		func(context.Context) error { return m.store.Save(old) })
	return nil
}

func (m *Module) planSetRunning(u *update.Update, p *plan.Plans, running bool) error {
	old, err := m.store.Get(u.Name)
	if err != nil {
		return err
	}
	desired := old.Clone()
	desired.Running = running

	verb := "stop"
	runtimeAction := m.runtime.Stop
	runtimeUndo := m.runtime.Start
	if running {
		verb = "start"
		runtimeAction = m.runtime.Start
		runtimeUndo = m.runtime.Stop
	}
	p.AddAction(prioRegistry, verb+" chute record",
		func(context.Context) error { return m.store.Save(desired) },
		func(context.Context) error { return m.store.Save(old) })
	p.AddAction(prioRuntime, verb+" chute runtime",
		func(ctx context.Context) error { return runtimeAction(ctx, desired) },
		func(ctx context.Context) error { return runtimeUndo(ctx, desired) })
	return nil
}

func (m *Module) planRestart(u *update.Update, p *plan.Plans) error {
	old, err := m.store.Get(u.Name)
	if err != nil {
		return err
	}
	desired := old.Clone()
	desired.Running = true

	p.AddAction(prioRegistry, "mark chute running",
		func(context.Context) error { return m.store.Save(desired) },
		func(context.Context) error { return m.store.Save(old) })
	p.AddAction(prioRuntime, "restart chute runtime",
		func(ctx context.Context) error {
			if old.Running {
				if err := m.runtime.Stop(ctx, old); err != nil {
					return err
				}
			}
			return m.runtime.Start(ctx, desired)
		},
		func(ctx context.Context) error { return m.runtime.Stop(ctx, desired) })
	return nil
}

// checkConflicts verifies the chute's reservations against every other
// chute on the device.
func (m *Module) checkConflicts(c *Chute) error {
	others, err := m.store.List()
	if err != nil {
		return err
	}
	for _, ip := range c.IPs {
		if !IsIPValid(ip) {
			return fmt.Errorf("invalid IP address %q", ip)
		}
		if !IsIPAvailable(ip, others, c.Name) {
			return fmt.Errorf("IP address %s is in use by another chute", ip)
		}
	}
	for _, ssid := range c.SSIDs {
		if !IsSSIDAvailable(ssid, others, c.Name) {
			return fmt.Errorf("SSID %s is in use by another chute", ssid)
		}
	}
	for _, ip := range c.StaticIPs {
		if !IsStaticIPAvailable(ip, others, c.Name) {
			return fmt.Errorf("static IP %s is in use by another chute", ip)
		}
	}
	return nil
}

// chuteFromPayload builds the desired chute from an update's payload,
// ignoring malformed fields rather than failing on them.
func chuteFromPayload(u *update.Update) *Chute {
	c := &Chute{Name: u.Name}
	if v, ok := u.PayloadString("version"); ok {
		c.Version = v
	}
	if cfg, ok := u.Payload["config"].(map[string]any); ok {
		c.Config = cfg
	}
	c.IPs = stringList(u.Payload["ips"])
	c.SSIDs = stringList(u.Payload["ssids"])
	c.StaticIPs = stringList(u.Payload["static_ips"])
	return c
}

// mergeFromOld imports fields missing from the request from the stored
// chute, so a partial update does not drop state.
func mergeFromOld(desired, old *Chute) {
	if desired.Version == "" {
		desired.Version = old.Version
	}
	if desired.Config == nil {
		desired.Config = old.Config
	}
	if desired.IPs == nil {
		desired.IPs = old.IPs
	}
	if desired.SSIDs == nil {
		desired.SSIDs = old.SSIDs
	}
	if desired.StaticIPs == nil {
		desired.StaticIPs = old.StaticIPs
	}
	desired.Interfaces = old.Interfaces
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
