package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// echoBackend returns its source as a string and records bound names.
type echoBackend struct {
	kind    Kind
	bound   map[string]*capability.Object
	running atomic.Int32
	overlap atomic.Bool
	closed  bool
}

func newEchoBackend(kind Kind) *echoBackend {
	return &echoBackend{kind: kind, bound: make(map[string]*capability.Object)}
}

func (b *echoBackend) Kind() Kind { return b.kind }

func (b *echoBackend) Bind(name string, obj *capability.Object) error {
	b.bound[name] = obj
	return nil
}

func (b *echoBackend) Execute(_ context.Context, source string) (value.Value, error) {
	if b.running.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.running.Add(-1)
	time.Sleep(time.Millisecond)
	return value.String(source), nil
}

func (b *echoBackend) Close() error {
	b.closed = true
	return nil
}

func registration(kind Kind, created *atomic.Int32) Registration {
	return Registration{Kind: kind, New: func() (Engine, error) {
		created.Add(1)
		return NewGuarded(newEchoBackend(kind)), nil
	}}
}

func TestFactory_SingletonPerKind(t *testing.T) {
	var created atomic.Int32
	f, err := NewFactory(registration(KindJS, &created), registration(KindLua, &created))
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}

	first, err := f.Get(KindJS)
	if err != nil {
		t.Fatalf("Get(js) error = %v", err)
	}
	second, err := f.Get(KindJS)
	if err != nil {
		t.Fatalf("Get(js) error = %v", err)
	}
	if first != second {
		t.Error("Get should return the same instance for a kind")
	}
	if created.Load() != 1 {
		t.Errorf("constructor called %d times, want 1", created.Load())
	}
}

func TestFactory_ConcurrentGet(t *testing.T) {
	var created atomic.Int32
	f, _ := NewFactory(registration(KindJS, &created))

	var wg sync.WaitGroup
	engines := make([]Engine, 16)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i], _ = f.Get(KindJS)
		}(i)
	}
	wg.Wait()

	for _, e := range engines[1:] {
		if e != engines[0] {
			t.Fatal("concurrent Get returned different instances")
		}
	}
	if created.Load() != 1 {
		t.Errorf("constructor called %d times, want 1", created.Load())
	}
}

func TestFactory_UnsupportedKind(t *testing.T) {
	var created atomic.Int32
	f, _ := NewFactory(registration(KindJS, &created), registration(KindExpr, &created))

	_, err := f.Get("python")
	if !hosterr.IsKind(err, hosterr.KindUnsupportedKind) {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
	he := hosterr.Root(err)
	supported, _ := he.Details["supported"].([]string)
	if len(supported) != 2 || supported[0] != "expr" || supported[1] != "js" {
		t.Errorf("supported = %v, want [expr js]", he.Details["supported"])
	}
	if created.Load() != 0 {
		t.Error("unsupported kind must not construct an engine")
	}
}

func TestFactory_ConstructorErrorNotCached(t *testing.T) {
	calls := 0
	f, _ := NewFactory(Registration{Kind: KindLua, New: func() (Engine, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return NewGuarded(newEchoBackend(KindLua)), nil
	}})

	if _, err := f.Get(KindLua); !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if _, err := f.Get(KindLua); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
}

func TestNewFactory_Validation(t *testing.T) {
	ok := Registration{Kind: KindJS, New: func() (Engine, error) { return nil, nil }}

	tests := []struct {
		name string
		regs []Registration
	}{
		{"empty kind", []Registration{{New: ok.New}}},
		{"nil constructor", []Registration{{Kind: KindJS}}},
		{"duplicate", []Registration{ok, ok}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(tt.regs...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFactory_SupportedKinds(t *testing.T) {
	var created atomic.Int32
	f, _ := NewFactory(registration(KindStarlark, &created), registration(KindExpr, &created), registration(KindJS, &created))

	got := f.SupportedKinds()
	want := []Kind{KindExpr, KindJS, KindStarlark}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SupportedKinds() = %v, want %v", got, want)
		}
	}
	if !f.Supports(KindJS) || f.Supports(KindLua) {
		t.Error("Supports() mismatch")
	}
}

func TestGuarded_Serializes(t *testing.T) {
	b := newEchoBackend(KindJS)
	g := NewGuarded(b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), "x")
		}()
	}
	wg.Wait()

	if b.overlap.Load() {
		t.Error("Guarded allowed overlapping executions")
	}
}

func TestGuarded_Close(t *testing.T) {
	b := newEchoBackend(KindJS)
	g := NewGuarded(b)

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.closed {
		t.Error("backend not closed")
	}
	if _, err := g.Execute(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close error = %v, want ErrClosed", err)
	}
	if !g.SupportsKind(KindJS) || g.SupportsKind(KindLua) {
		t.Error("SupportsKind mismatch")
	}
}

func TestBindSurface(t *testing.T) {
	b := newEchoBackend(KindJS)
	s := capability.NewSurface()
	_ = s.Register(capability.NewFS(""))
	_ = s.Register(capability.NewProcess(capability.ProcessConfig{}))

	if err := BindSurface(b, s); err != nil {
		t.Fatalf("BindSurface() error = %v", err)
	}
	if b.bound["fs"] == nil || b.bound["process"] == nil {
		t.Errorf("bound = %v", b.bound)
	}
}

func TestScriptError(t *testing.T) {
	storageErr := hosterr.NewStorageError("disk full", nil)
	err := ScriptError(KindLua, "ignored", "script:3", storageErr)

	if hosterr.KindOf(err) != hosterr.KindEngine {
		t.Errorf("outer kind = %s, want engine", hosterr.KindOf(err))
	}
	if !hosterr.IsKind(err, hosterr.KindStorage) {
		t.Error("host error should stay in the chain")
	}
	if root := hosterr.Root(err); root != storageErr {
		t.Errorf("Root() = %v, want the storage error", root)
	}

	plain := ScriptError(KindJS, "ReferenceError: x is not defined", "script.js:1:1", nil)
	if he := hosterr.Root(plain); he.Location != "script.js:1:1" {
		t.Errorf("Location = %q", he.Location)
	}
}
