package hostconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paradrop/agent/internal/configd"
	"github.com/paradrop/agent/internal/plan"
	"github.com/paradrop/agent/internal/uci"
	"github.com/paradrop/agent/internal/update"
)

// All file writes settle before any reload is signaled, so a failed write
// rolls back without the kernel ever seeing a half-applied configuration.
const (
	prioCommit = 10
	prioReload = 20
)

// subsystemFiles is the canonical application order across config files.
var subsystemFiles = []string{
	uci.FileNetwork,
	uci.FileFirewall,
	uci.FileWireless,
	uci.FileQos,
	uci.FileDHCP,
}

// Module is the capability module for ROUTER-class sethostconfig updates.
type Module struct {
	dir    string
	client configd.Client
}

// NewModule builds the module over the directory holding the subsystem
// config files. client signals the platform config daemon after commits.
func NewModule(dir string, client configd.Client) *Module {
	if client == nil {
		client = configd.NopClient{}
	}
	return &Module{dir: dir, client: client}
}

func (m *Module) Name() string { return "hostconfig" }

func (m *Module) Ops() []update.Op {
	return []update.Op{{Class: update.ClassRouter, Type: update.TypeSetHostConfig}}
}

// GeneratePlans diffs the rendered desired sections against what the router
// currently owns in each subsystem file. Files already in the desired state
// contribute nothing, so re-applying the same host config is a no-op.
func (m *Module) GeneratePlans(u *update.Update, p *plan.Plans) error {
	cfg, ok := u.Payload["config"].(map[string]any)
	if !ok {
		return errors.New("host config payload required")
	}
	desired := Render(cfg)
	token := strconv.FormatInt(u.Token, 10)

	for _, file := range subsystemFiles {
		path := filepath.Join(m.dir, file)
		store, err := uci.Load(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
		want := desired[file]
		if uci.OwnedSetsEqual(store.SectionsOwnedBy(uci.RouterOwner), want) {
			continue
		}

		p.AddAction(prioCommit, "write "+file+" config",
			func(context.Context) error {
				store.DelOwnedBy(uci.RouterOwner)
				store.AddAll(want)
				return store.Save(token)
			},
			func(context.Context) error {
				if err := m.restore(store, token); err != nil {
					return err
				}
				return m.client.Reload(path)
			})
		p.AddAction(prioReload, "reload "+file,
			func(context.Context) error { return m.client.Reload(path) },
			nil)
	}
	return nil
}

// restore puts the file back to its pre-commit content. When no backup
// exists the file did not exist before the commit, so it is removed.
func (m *Module) restore(store *uci.Config, token string) error {
	err := store.Restore(token)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return os.Remove(store.Path())
	}
	return err
}
