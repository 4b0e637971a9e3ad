package hostconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paradrop/agent/internal/plan"
	"github.com/paradrop/agent/internal/uci"
	"github.com/paradrop/agent/internal/update"
)

type fakeConfigd struct {
	reloaded []string
	failPath string
}

func (f *fakeConfigd) Reload(path string) error {
	f.reloaded = append(f.reloaded, path)
	if f.failPath != "" && path == f.failPath {
		return errors.New("daemon rejected reload")
	}
	return nil
}

func hostConfigUpdate(t *testing.T, cfg map[string]any) *update.Update {
	t.Helper()
	u, err := update.New(update.Request{
		Class:   update.ClassRouter,
		Type:    update.TypeSetHostConfig,
		Name:    uci.RouterOwner,
		Payload: map[string]any{"config": cfg},
	})
	if err != nil {
		t.Fatalf("new update: %v", err)
	}
	return u
}

func sampleConfig() map[string]any {
	return map[string]any{
		"wan": map[string]any{"interface": "eth0"},
		"lan": map[string]any{
			"interface": "eth1",
			"ipaddr":    "192.168.1.1",
			"netmask":   "255.255.255.0",
			"dhcp":      map[string]any{"start": 100, "limit": 100, "lease": "12h"},
		},
	}
}

func TestApplyWritesFilesAndSignalsReload(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeConfigd{}
	m := NewModule(dir, fc)

	u := hostConfigUpdate(t, sampleConfig())
	var p plan.Plans
	if err := m.GeneratePlans(u, &p); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := p.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	net, err := uci.Load(filepath.Join(dir, uci.FileNetwork))
	if err != nil {
		t.Fatalf("load network: %v", err)
	}
	wan := net.Match(&uci.Section{Type: "interface", Name: "wan", Owner: uci.RouterOwner})
	if len(wan) != 1 || wan[0].Options["ifname"] != "eth0" {
		t.Fatalf("wan section: %+v", wan)
	}

	dhcp, err := uci.Load(filepath.Join(dir, uci.FileDHCP))
	if err != nil {
		t.Fatalf("load dhcp: %v", err)
	}
	// Numeric payload values are stringified on the way in.
	lan := dhcp.Match(&uci.Section{Type: "dhcp", Name: "lan", Owner: uci.RouterOwner})
	if len(lan) != 1 || lan[0].Options["start"] != "100" {
		t.Fatalf("dhcp section: %+v", lan)
	}

	// network, firewall and dhcp changed; wireless and qos have nothing.
	if len(fc.reloaded) != 3 {
		t.Fatalf("reloads: %v", fc.reloaded)
	}
}

func TestReapplySameConfigIsNoOp(t *testing.T) {
	dir := t.TempDir()
	m := NewModule(dir, &fakeConfigd{})

	var p plan.Plans
	if err := m.GeneratePlans(hostConfigUpdate(t, sampleConfig()), &p); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := p.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	fc := &fakeConfigd{}
	m2 := NewModule(dir, fc)
	var p2 plan.Plans
	if err := m2.GeneratePlans(hostConfigUpdate(t, sampleConfig()), &p2); err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if p2.Len() != 0 {
		t.Fatalf("expected no actions for an already-applied config, got %d", p2.Len())
	}
	if len(fc.reloaded) != 0 {
		t.Fatalf("no reload may be signaled: %v", fc.reloaded)
	}
}

func TestForeignSectionsSurviveApply(t *testing.T) {
	dir := t.TempDir()
	netPath := filepath.Join(dir, uci.FileNetwork)
	seed := "config interface 'vpn' #chute-vpn\n\toption ifname 'tun0'\n"
	if err := os.WriteFile(netPath, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := NewModule(dir, &fakeConfigd{})

	var p plan.Plans
	if err := m.GeneratePlans(hostConfigUpdate(t, sampleConfig()), &p); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := p.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	net, err := uci.Load(netPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := net.SectionsOwnedBy("chute-vpn"); len(got) != 1 {
		t.Fatalf("chute-owned section lost: %+v", got)
	}
	if got := net.SectionsOwnedBy(uci.RouterOwner); len(got) != 2 {
		t.Fatalf("router sections: %+v", got)
	}
}

func TestReloadFailureRestoresFiles(t *testing.T) {
	dir := t.TempDir()
	netPath := filepath.Join(dir, uci.FileNetwork)
	seed := "config interface 'wan' #__PARADROP__\n\toption ifname 'eth9'\n\toption proto 'dhcp'\n"
	if err := os.WriteFile(netPath, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fc := &fakeConfigd{failPath: netPath}
	m := NewModule(dir, fc)
	var reg update.Registry
	reg.Register(m, m.Ops()...)

	u := hostConfigUpdate(t, sampleConfig())
	res := update.NewMachine(&reg, nil).Execute(context.Background(), u)
	if res.Success {
		t.Fatalf("expected failure")
	}

	net, err := uci.Load(netPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wan := net.Match(&uci.Section{Type: "interface", Name: "wan", Owner: uci.RouterOwner})
	if len(wan) != 1 || wan[0].Options["ifname"] != "eth9" {
		t.Fatalf("network file not restored: %+v", wan)
	}
	// The firewall file did not exist before; rollback must remove it again.
	if _, err := os.Stat(filepath.Join(dir, uci.FileFirewall)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("firewall file not removed on rollback: %v", err)
	}
}

func TestGenerateRejectsMissingPayload(t *testing.T) {
	m := NewModule(t.TempDir(), nil)
	u, err := update.New(update.Request{Class: update.ClassRouter, Type: update.TypeSetHostConfig})
	if err != nil {
		t.Fatalf("new update: %v", err)
	}
	var p plan.Plans
	if err := m.GeneratePlans(u, &p); err == nil {
		t.Fatalf("expected payload error")
	}
}
