package update

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paradrop/agent/internal/plan"
)

type fakeModule struct {
	name    string
	genErr  error
	entries []plan.Entry
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) GeneratePlans(_ *Update, p *plan.Plans) error {
	if m.genErr != nil {
		return m.genErr
	}
	for _, e := range m.entries {
		p.Add(e)
	}
	return nil
}

func chuteOps(types ...string) []Op {
	ops := make([]Op, 0, len(types))
	for _, t := range types {
		ops = append(ops, Op{Class: ClassChute, Type: t})
	}
	return ops
}

func TestNewRejectsUnknownClass(t *testing.T) {
	_, err := New(Request{Class: "FAIL", Type: TypeCreate, Name: "x"})
	if err == nil {
		t.Fatalf("expected construction error for unknown class")
	}
	if _, err := New(Request{Class: ClassChute, Name: "x"}); err == nil {
		t.Fatalf("expected construction error for missing type")
	}
}

func TestTokensMonotonic(t *testing.T) {
	prev := int64(0)
	for i := 0; i < 100; i++ {
		u, err := New(Request{Class: ClassChute, Type: TypeCreate, Name: "c"})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if u.Token <= prev {
			t.Fatalf("token %d not greater than %d", u.Token, prev)
		}
		prev = u.Token
	}
}

func TestCompleteTwicePanics(t *testing.T) {
	u, _ := New(Request{Class: ClassChute, Type: TypeCreate, Name: "c"})
	u.Complete(true, "ok")
	defer func() {
		if recover() == nil {
			t.Fatalf("second Complete must panic")
		}
	}()
	u.Complete(false, "again")
}

func TestMachineSuccess(t *testing.T) {
	var reg Registry
	var ran int
	reg.Register(&fakeModule{name: "mod", entries: []plan.Entry{
		{Priority: 1, Desc: "one", Action: func(context.Context) error { ran++; return nil }},
		{Priority: 2, Desc: "two", Action: func(context.Context) error { ran++; return nil }},
	}}, chuteOps(TypeCreate)...)

	u, _ := New(Request{Class: ClassChute, Type: TypeCreate, Name: "c"})
	m := NewMachine(&reg, nil)
	res := m.Execute(context.Background(), u)
	if !res.Success {
		t.Fatalf("expected success: %v", res.Message)
	}
	if ran != 2 {
		t.Fatalf("actions ran: %d", ran)
	}
	// The future resolves with exactly the recorded result.
	select {
	case got := <-u.Done():
		if got != res {
			t.Fatalf("future %v != result %v", got, res)
		}
	case <-time.After(time.Second):
		t.Fatalf("future never resolved")
	}
	if r := u.Result(); r == nil || !r.Success {
		t.Fatalf("result not recorded")
	}
}

func TestMachineGenerationFailure(t *testing.T) {
	var reg Registry
	var ran bool
	reg.Register(&fakeModule{name: "good", entries: []plan.Entry{
		{Priority: 1, Desc: "side effect", Action: func(context.Context) error { ran = true; return nil }},
	}}, chuteOps(TypeCreate)...)
	reg.Register(&fakeModule{name: "broken", genErr: errors.New("name collision")}, chuteOps(TypeCreate)...)

	u, _ := New(Request{Class: ClassChute, Type: TypeCreate, Name: "c"})
	res := NewMachine(&reg, nil).Execute(context.Background(), u)
	if res.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Message, "broken") {
		t.Fatalf("message must name the failing module: %q", res.Message)
	}
	if ran {
		t.Fatalf("no action may run when generation fails")
	}
}

func TestMachineRollbackOnActionFailure(t *testing.T) {
	var reg Registry
	var rolled []string
	reg.Register(&fakeModule{name: "mod", entries: []plan.Entry{
		{Priority: 1, Desc: "a",
			Action:   func(context.Context) error { return nil },
			Rollback: func(context.Context) error { rolled = append(rolled, "a"); return nil }},
		{Priority: 2, Desc: "b",
			Action:   func(context.Context) error { return nil },
			Rollback: func(context.Context) error { rolled = append(rolled, "b"); return nil }},
		{Priority: 3, Desc: "c",
			Action: func(context.Context) error { return errors.New("boom") }},
	}}, chuteOps(TypeDelete)...)

	u, _ := New(Request{Class: ClassChute, Type: TypeDelete, Name: "c"})
	res := NewMachine(&reg, nil).Execute(context.Background(), u)
	if res.Success {
		t.Fatalf("expected failure")
	}
	if len(rolled) != 2 || rolled[0] != "b" || rolled[1] != "a" {
		t.Fatalf("rollback order: %v", rolled)
	}
}

func TestRegistrySupports(t *testing.T) {
	var reg Registry
	reg.Register(&fakeModule{name: "m"}, Op{Class: ClassRouter, Type: TypeSetHostConfig})
	if !reg.Supports(ClassRouter, TypeSetHostConfig) {
		t.Fatalf("expected supported")
	}
	if reg.Supports(ClassChute, TypeSetHostConfig) {
		t.Fatalf("wrong class must not be supported")
	}
}
