package backend_test

import (
	"testing"

	"github.com/bdube/stagehand/backend"
)

type fakeBackend struct {
	name      string
	available bool
}

func (f fakeBackend) Name() string                 { return f.name }
func (f fakeBackend) Available() bool              { return f.available }
func (f fakeBackend) Enumerate() ([]string, error) { return nil, nil }

func TestSelectPrefersPrimary(t *testing.T) {
	sel := backend.Selector{
		Primary: fakeBackend{name: "kinesis", available: true},
		Legacy:  fakeBackend{name: "apt", available: true},
	}
	b, err := sel.Select()
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "kinesis" {
		t.Errorf("selected %s, want kinesis", b.Name())
	}
}

func TestSelectFallsBackToLegacy(t *testing.T) {
	sel := backend.Selector{
		Primary: fakeBackend{name: "kinesis", available: false},
		Legacy:  fakeBackend{name: "apt", available: true},
	}
	b, err := sel.Select()
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "apt" {
		t.Errorf("selected %s, want apt", b.Name())
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	sel := backend.Selector{
		Primary: fakeBackend{name: "kinesis", available: false},
		Legacy:  fakeBackend{name: "apt", available: false},
	}
	if _, err := sel.Select(); err != backend.ErrNoBackend {
		t.Errorf("err = %v, want ErrNoBackend", err)
	}
}

func TestSelectToleratesNilBackends(t *testing.T) {
	sel := backend.Selector{}
	if _, err := sel.Select(); err != backend.ErrNoBackend {
		t.Errorf("err = %v, want ErrNoBackend", err)
	}
}

func TestPickByName(t *testing.T) {
	sel := backend.Selector{
		Primary: fakeBackend{name: "kinesis", available: false},
		Legacy:  fakeBackend{name: "apt", available: false},
	}
	b, err := sel.Pick("apt")
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "apt" {
		t.Errorf("picked %s, want apt", b.Name())
	}
	if _, err := sel.Pick("simulator"); err == nil {
		t.Error("expected an error picking an unknown backend")
	}
}
