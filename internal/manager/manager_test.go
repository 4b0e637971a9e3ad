package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paradrop/agent/internal/pdserver"
	"github.com/paradrop/agent/internal/plan"
	"github.com/paradrop/agent/internal/update"
)

type fakeServer struct {
	mu        sync.Mutex
	items     []pdserver.UpdateItem
	listErr   error
	refuse    bool // respond with success=false
	omitData  bool // respond with success=true but no data array
	markErr   error
	completed []string
	reports   []*pdserver.StateReport
}

func (f *fakeServer) ListUpdates(context.Context) (*pdserver.UpdatesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.refuse {
		return &pdserver.UpdatesResponse{Success: false}, nil
	}
	if f.omitData {
		return &pdserver.UpdatesResponse{Success: true}, nil
	}
	// An empty listing arrives as a present, empty array.
	return &pdserver.UpdatesResponse{Success: true, Data: append([]pdserver.UpdateItem{}, f.items...)}, nil
}

func (f *fakeServer) MarkCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeServer) SendStateReport(_ context.Context, r *pdserver.StateReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeServer) snapshot() (completed []string, reports []*pdserver.StateReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...), append([]*pdserver.StateReport(nil), f.reports...)
}

// execModule records which updates it planned and executes a single no-op
// action per update.
type execModule struct {
	mu       sync.Mutex
	executed []string
}

func (m *execModule) Name() string { return "exec" }

func (m *execModule) GeneratePlans(u *update.Update, p *plan.Plans) error {
	p.AddAction(1, "run "+u.Name, func(context.Context) error {
		m.mu.Lock()
		m.executed = append(m.executed, u.Name)
		m.mu.Unlock()
		return nil
	}, nil)
	return nil
}

func (m *execModule) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

func newTestManager(srv ServerClient, mod update.Module) *Manager {
	var reg update.Registry
	reg.Register(mod,
		update.Op{Class: update.ClassChute, Type: update.TypeCreate},
		update.Op{Class: update.ClassRouter, Type: update.TypeSetHostConfig},
	)
	return New(Options{
		Server:         srv,
		Machine:        update.NewMachine(&reg, nil),
		RouterID:       "r1",
		PollInterval:   time.Hour,
		ReportAttempts: 1,
		ReportInterval: time.Millisecond,
	})
}

func TestStartUpdateDispatchesAndReports(t *testing.T) {
	srv := &fakeServer{items: []pdserver.UpdateItem{
		{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam"},
		{ID: "u2", Class: "ROUTER", Type: "sethostconfig"},
	}}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)

	if got := mod.count(); got != 2 {
		t.Fatalf("executed %d updates", got)
	}
	completed, reports := srv.snapshot()
	if len(completed) != 2 {
		t.Fatalf("completions: %v", completed)
	}
	// One aggregate report for the whole batch.
	if len(reports) != 1 || len(reports[0].Updates) != 2 {
		t.Fatalf("reports: %+v", reports)
	}
	if reports[0].RouterID != "r1" {
		t.Fatalf("router id: %q", reports[0].RouterID)
	}
	if got := m.InProgress(); len(got) != 0 {
		t.Fatalf("in-progress after completion: %v", got)
	}
}

func TestInFlightItemsNotRedispatched(t *testing.T) {
	srv := &fakeServer{
		items:   []pdserver.UpdateItem{{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam"}},
		markErr: errors.New("server down"),
	}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("failed completion report must keep the ID tracked: %v", got)
	}

	// Same listing again: the item is in progress, so it must not run twice.
	m.StartUpdate(context.Background(), false)
	if got := mod.count(); got != 1 {
		t.Fatalf("update executed %d times", got)
	}
}

func TestStaleIDsDropped(t *testing.T) {
	srv := &fakeServer{
		items:   []pdserver.UpdateItem{{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam"}},
		markErr: errors.New("server down"),
	}
	m := newTestManager(srv, &execModule{})
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("precondition: %v", got)
	}

	// The server no longer lists u1; tracking must be cleared.
	srv.mu.Lock()
	srv.items = nil
	srv.mu.Unlock()
	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 0 {
		t.Fatalf("stale ID survived: %v", got)
	}
}

func TestStartedItemsSkipped(t *testing.T) {
	srv := &fakeServer{items: []pdserver.UpdateItem{
		{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam", Started: true},
	}}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := mod.count(); got != 0 {
		t.Fatalf("started item must not be dispatched, ran %d", got)
	}
	if got := m.InProgress(); len(got) != 0 {
		t.Fatalf("started item must not be tracked: %v", got)
	}
}

func TestUnknownClassNotAdmitted(t *testing.T) {
	srv := &fakeServer{items: []pdserver.UpdateItem{
		{ID: "u1", Class: "FIRMWARE", Type: "flash"},
		{ID: "u2", Class: "CHUTE", Type: "create", Name: "cam"},
	}}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := mod.count(); got != 1 {
		t.Fatalf("executed %d updates", got)
	}
	completed, _ := srv.snapshot()
	if len(completed) != 1 || completed[0] != "u2" {
		t.Fatalf("completions: %v", completed)
	}
}

func TestDelegatedNotReported(t *testing.T) {
	srv := &fakeServer{items: []pdserver.UpdateItem{
		{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam", Delegated: true},
	}}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := mod.count(); got != 1 {
		t.Fatalf("delegated update must still execute, ran %d", got)
	}
	completed, reports := srv.snapshot()
	if len(completed) != 0 {
		t.Fatalf("delegated update must not be marked completed: %v", completed)
	}
	// The aggregate report still covers the batch.
	if len(reports) != 1 {
		t.Fatalf("reports: %d", len(reports))
	}
}

func TestRefusedListingKeepsTracking(t *testing.T) {
	srv := &fakeServer{
		items:   []pdserver.UpdateItem{{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam"}},
		markErr: errors.New("server down"),
	}
	m := newTestManager(srv, &execModule{})
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("precondition: %v", got)
	}

	// success=false is not an empty listing; u1 must stay tracked.
	srv.mu.Lock()
	srv.refuse = true
	srv.mu.Unlock()
	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("refused listing dropped tracking: %v", got)
	}
}

func TestMissingDataKeepsTracking(t *testing.T) {
	srv := &fakeServer{
		items:   []pdserver.UpdateItem{{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam"}},
		markErr: errors.New("server down"),
	}
	m := newTestManager(srv, &execModule{})
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("precondition: %v", got)
	}

	srv.mu.Lock()
	srv.omitData = true
	srv.mu.Unlock()
	m.StartUpdate(context.Background(), false)
	if got := m.InProgress(); len(got) != 1 {
		t.Fatalf("listing without data dropped tracking: %v", got)
	}
}

func TestItemConfigMergedIntoPayload(t *testing.T) {
	req := requestFromItem(pdserver.UpdateItem{
		ID:     "u1",
		Class:  "CHUTE",
		Type:   "create",
		Config: []byte(`{"name":"cam","version":"1.0","ips":["10.0.0.2"]}`),
	})
	if req.Name != "cam" {
		t.Fatalf("name not taken from config block: %q", req.Name)
	}
	if req.Payload["version"] != "1.0" {
		t.Fatalf("version not at payload top level: %+v", req.Payload)
	}
	if _, ok := req.Payload["ips"]; !ok {
		t.Fatalf("reservations lost: %+v", req.Payload)
	}

	// An explicit item name wins over the block's.
	req = requestFromItem(pdserver.UpdateItem{
		ID: "u2", Class: "CHUTE", Type: "create", Name: "dns",
		Config: []byte(`{"name":"other"}`),
	})
	if req.Name != "dns" {
		t.Fatalf("item name overridden: %q", req.Name)
	}
}

func TestMalformedConfigDroppedNotFatal(t *testing.T) {
	srv := &fakeServer{items: []pdserver.UpdateItem{
		{ID: "u1", Class: "CHUTE", Type: "create", Name: "cam", Config: []byte(`"garbage"`)},
		{ID: "u2", Class: "CHUTE", Type: "create", Name: "dns"},
	}}
	mod := &execModule{}
	m := newTestManager(srv, mod)
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	if got := mod.count(); got != 2 {
		t.Fatalf("executed %d updates, malformed config must not sink the batch", got)
	}
	if req := requestFromItem(srv.items[0]); len(req.Payload) != 0 {
		t.Fatalf("malformed config must be dropped, got payload %+v", req.Payload)
	}
}

func TestFetchFailureIsQuiet(t *testing.T) {
	srv := &fakeServer{listErr: errors.New("unreachable")}
	m := newTestManager(srv, &execModule{})
	defer m.Stop()

	m.StartUpdate(context.Background(), false)
	_, reports := srv.snapshot()
	if len(reports) != 0 {
		t.Fatalf("no report may be sent on fetch failure")
	}
	if !m.timer.Armed() {
		t.Fatalf("polling fallback must arm even when the fetch fails")
	}
}

func TestTimerLifecycle(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	var tm Timer
	tm.Arm(10*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer tm.Cancel()

	// Second Arm is a no-op.
	tm.Arm(time.Hour, func() { t.Error("second arm must not replace the cycle") })

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := fired
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timer did not recur: fired %d times", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	tm.Cancel()
	if tm.Armed() {
		t.Fatalf("cancel did not disarm")
	}
	mu.Lock()
	after := fired
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	final := fired
	mu.Unlock()
	if final > after+1 {
		t.Fatalf("timer kept firing after cancel: %d -> %d", after, final)
	}
}
