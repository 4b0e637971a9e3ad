package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paradrop/agent/internal/plan"
	"github.com/paradrop/agent/internal/update"
)

type captureModule struct {
	mu     sync.Mutex
	seen   []*update.Update
	genErr error
}

func (m *captureModule) Name() string { return "capture" }

func (m *captureModule) GeneratePlans(u *update.Update, p *plan.Plans) error {
	m.mu.Lock()
	m.seen = append(m.seen, u)
	m.mu.Unlock()
	if m.genErr != nil {
		return m.genErr
	}
	p.AddAction(1, "noop", func(context.Context) error { return nil }, nil)
	return nil
}

func (m *captureModule) last() *update.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[len(m.seen)-1]
}

func newTestBridge(mod update.Module) *Bridge {
	var reg update.Registry
	for _, typ := range []string{
		update.TypeCreate, update.TypeUpdate, update.TypeDelete,
		update.TypeStart, update.TypeStop, update.TypeRestart,
	} {
		reg.Register(mod, update.Op{Class: update.ClassChute, Type: typ})
	}
	reg.Register(mod, update.Op{Class: update.ClassRouter, Type: update.TypeSetHostConfig})
	return New(update.NewMachine(&reg, nil), nil)
}

func await(t *testing.T, done <-chan update.Result) update.Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("future never resolved")
		return update.Result{}
	}
}

func TestCreateChuteResolvesFuture(t *testing.T) {
	mod := &captureModule{}
	b := newTestBridge(mod)

	done, err := b.CreateChute(context.Background(), "cam", map[string]any{"version": "1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res := await(t, done)
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}

	u := mod.last()
	if u.Class != update.ClassChute || u.Type != update.TypeCreate || u.Name != "cam" {
		t.Fatalf("admitted update: %s", u)
	}
	if u.Delegated || u.External != nil {
		t.Fatalf("local updates are never delegated or external: %+v", u)
	}
	if v, _ := u.PayloadString("version"); v != "1" {
		t.Fatalf("payload lost: %+v", u.Payload)
	}
}

func TestUpdateHostConfigTargetsRouter(t *testing.T) {
	mod := &captureModule{}
	b := newTestBridge(mod)

	done, err := b.UpdateHostConfig(context.Background(), map[string]any{"wan": map[string]any{"interface": "eth0"}})
	if err != nil {
		t.Fatalf("hostconfig: %v", err)
	}
	await(t, done)

	u := mod.last()
	if u.Class != update.ClassRouter || u.Type != update.TypeSetHostConfig {
		t.Fatalf("admitted update: %s", u)
	}
	if _, ok := u.Payload["config"].(map[string]any); !ok {
		t.Fatalf("config blob missing: %+v", u.Payload)
	}
}

func TestGenerationFailureFlowsThroughFuture(t *testing.T) {
	mod := &captureModule{genErr: errors.New("name collision")}
	b := newTestBridge(mod)

	done, err := b.DeleteChute(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	res := await(t, done)
	if res.Success {
		t.Fatalf("expected failure result")
	}
}
