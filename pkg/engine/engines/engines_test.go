package engines

import (
	"context"
	"testing"

	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
)

func TestNewDefaultFactory_Kinds(t *testing.T) {
	f, err := NewDefaultFactory(engine.Options{})
	if err != nil {
		t.Fatalf("NewDefaultFactory() error = %v", err)
	}
	defer f.Close()

	want := []engine.Kind{engine.KindExpr, engine.KindJS, engine.KindLua, engine.KindStarlark}
	got := f.SupportedKinds()
	if len(got) != len(want) {
		t.Fatalf("SupportedKinds() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SupportedKinds()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNewDefaultFactory_EveryKindEvaluates(t *testing.T) {
	f, err := NewDefaultFactory(engine.Options{})
	if err != nil {
		t.Fatalf("NewDefaultFactory() error = %v", err)
	}
	defer f.Close()

	sources := map[engine.Kind]string{
		engine.KindJS:       `1 + 1`,
		engine.KindStarlark: `result = 1 + 1`,
		engine.KindLua:      `return 1 + 1`,
		engine.KindExpr:     `1 + 1`,
	}
	for kind, src := range sources {
		t.Run(string(kind), func(t *testing.T) {
			eng, err := f.Get(kind)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", kind, err)
			}
			if !eng.SupportsKind(kind) {
				t.Errorf("SupportsKind(%s) = false", kind)
			}
			again, _ := f.Get(kind)
			if again != eng {
				t.Error("Get() returned a different instance")
			}
			got, err := eng.Execute(context.Background(), src)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got.String() != "2" {
				t.Errorf("result = %s, want 2", got)
			}
		})
	}
}

func TestNewDefaultFactory_Unsupported(t *testing.T) {
	f, err := NewDefaultFactory(engine.Options{})
	if err != nil {
		t.Fatalf("NewDefaultFactory() error = %v", err)
	}
	_, err = f.Get("cobol")
	if !hosterr.IsKind(err, hosterr.KindUnsupportedKind) {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
	supported, _ := hosterr.Root(err).Details["supported"].([]string)
	if len(supported) != 4 {
		t.Errorf("supported = %v", supported)
	}
}

func TestDefault_Singleton(t *testing.T) {
	a, err := Default(engine.Options{})
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	b, _ := Default(engine.Options{})
	if a != b {
		t.Error("Default() returned different factories")
	}
}
