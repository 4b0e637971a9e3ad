// Package bridge admits operator-originated change-requests. Every
// operation builds a non-delegated update and feeds it to the same state
// machine the sync manager uses, so validation, rollback and idempotent
// reconciliation are identical regardless of entry point.
package bridge

import (
	"context"
	"log/slog"

	"github.com/paradrop/agent/internal/uci"
	"github.com/paradrop/agent/internal/update"
)

// Bridge turns direct operations into updates.
type Bridge struct {
	machine *update.Machine
	logger  *slog.Logger
}

func New(machine *update.Machine, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{machine: machine, logger: logger}
}

// CreateChute installs a new chute. payload carries the declared fields
// (version, config, ips, ssids, static_ips); the chute module validates
// them.
func (b *Bridge) CreateChute(ctx context.Context, name string, payload map[string]any) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{
		Class:   update.ClassChute,
		Type:    update.TypeCreate,
		Name:    name,
		Payload: payload,
	})
}

// UpdateChute applies a new declaration to an existing chute. Fields absent
// from payload are imported from the stored chute.
func (b *Bridge) UpdateChute(ctx context.Context, name string, payload map[string]any) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{
		Class:   update.ClassChute,
		Type:    update.TypeUpdate,
		Name:    name,
		Payload: payload,
	})
}

func (b *Bridge) DeleteChute(ctx context.Context, name string) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{Class: update.ClassChute, Type: update.TypeDelete, Name: name})
}

func (b *Bridge) StartChute(ctx context.Context, name string) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{Class: update.ClassChute, Type: update.TypeStart, Name: name})
}

func (b *Bridge) StopChute(ctx context.Context, name string) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{Class: update.ClassChute, Type: update.TypeStop, Name: name})
}

func (b *Bridge) RestartChute(ctx context.Context, name string) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{Class: update.ClassChute, Type: update.TypeRestart, Name: name})
}

// UpdateHostConfig applies a host configuration blob to the router.
func (b *Bridge) UpdateHostConfig(ctx context.Context, config map[string]any) (<-chan update.Result, error) {
	return b.submit(ctx, update.Request{
		Class:   update.ClassRouter,
		Type:    update.TypeSetHostConfig,
		Name:    uci.RouterOwner,
		Payload: map[string]any{"config": config},
	})
}

// submit admits the request and returns the one-shot future carrying its
// result. Execution proceeds asynchronously.
func (b *Bridge) submit(ctx context.Context, req update.Request) (<-chan update.Result, error) {
	u, err := update.New(req)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("admitted local update", "update", u.String())
	go b.machine.Execute(ctx, u)
	return u.Done(), nil
}
