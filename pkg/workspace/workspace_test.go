package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/packages"
	"github.com/openfroyo/scripthost/pkg/value"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Home: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateAndGet(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	wc, err := m.Create(ctx, Config{
		Name:    "demo",
		Engine:  "js",
		BaseURL: "https://api.example.com",
		Headers: map[string]string{"X-Team": "core", "Accept": "application/json"},
		Timeout: "30s",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if wc.Dir != m.Dir("demo") {
		t.Errorf("Dir = %q", wc.Dir)
	}
	if _, err := os.Stat(filepath.Join(wc.Dir, StateFile)); err != nil {
		t.Errorf("state.db not created: %v", err)
	}
	if wc.RunTimeout() != 30*time.Second {
		t.Errorf("RunTimeout() = %v", wc.RunTimeout())
	}
	if got := wc.SortedHeaders(); len(got) != 2 || got[0] != "Accept: application/json" {
		t.Errorf("SortedHeaders() = %v", got)
	}

	cfg, err := m.Get("demo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cfg.Engine != "js" || cfg.BaseURL != "https://api.example.com" || cfg.Headers["X-Team"] != "core" {
		t.Errorf("Get() = %+v", cfg)
	}

	if _, err := m.Create(ctx, Config{Name: "demo", Engine: "lua"}); !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
		t.Errorf("duplicate Create() error = %v", err)
	}
}

func TestCreateInvalid(t *testing.T) {
	m := setupManager(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty name", Config{Engine: "js"}},
		{"bad name", Config{Name: "My Space", Engine: "js"}},
		{"no engine", Config{Name: "demo"}},
		{"bad url", Config{Name: "demo", Engine: "js", BaseURL: "not a url"}},
		{"bad timeout", Config{Name: "demo", Engine: "js", Timeout: "soon"}},
		{"bad package manager", Config{Name: "demo", Engine: "js", PackageManager: "pacman"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Create(context.Background(), tt.cfg); !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
				t.Errorf("Create() error = %v, want invalid_argument", err)
			}
		})
	}

	if names, _ := m.List(); len(names) != 0 {
		t.Errorf("invalid workspaces were created: %v", names)
	}
}

func TestListAndGetMissing(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := m.Create(ctx, Config{Name: name, Engine: "starlark"}); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}
	// a stray directory without config is not a workspace
	if err := os.MkdirAll(m.Dir("stray"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("List() = %v", names)
	}

	if _, err := m.Get("missing"); !hosterr.IsKind(err, hosterr.KindNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
	if _, err := m.Get("../etc"); !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
		t.Errorf("Get(../etc) error = %v", err)
	}
}

func TestCUEConfig(t *testing.T) {
	m := setupManager(t)
	dir := m.Dir("cuews")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	src := `
name:   "cuews"
engine: "lua"
env: GREETING: "hi"
package_manager: "apk"
`
	if err := os.WriteFile(filepath.Join(dir, CUEConfigFile), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := m.Get("cuews")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cfg.Engine != "lua" || cfg.Env["GREETING"] != "hi" || cfg.PackageManager != "apk" {
		t.Errorf("Get() = %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, CUEConfigFile), []byte(`name: "other"`+"\n"+`engine: "lua"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("cuews"); err == nil {
		t.Error("expected error for mismatched name")
	}
}

func TestYAMLUnknownField(t *testing.T) {
	m := setupManager(t)
	dir := m.Dir("strict")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "name: strict\nengine: js\ncolour: blue\n"
	if err := os.WriteFile(filepath.Join(dir, YAMLConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("strict"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestSetActiveAndStoreScoping(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	for _, name := range []string{"one", "two"} {
		if _, err := m.Create(ctx, Config{Name: name, Engine: "js"}); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	if _, err := m.ActiveName(); !hosterr.IsKind(err, hosterr.KindNotFound) {
		t.Errorf("ActiveName() before use error = %v", err)
	}
	if m.Active() != nil {
		t.Error("Active() before SetActive is not nil")
	}

	one, err := m.SetActive(ctx, "one")
	if err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if name, _ := m.ActiveName(); name != "one" {
		t.Errorf("ActiveName() = %q", name)
	}
	if m.Active() != one {
		t.Error("Active() is not the activated context")
	}
	if err := one.Store.Set(ctx, "k", value.String("one")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	two, err := m.SetActive(ctx, "two")
	if err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if _, found, _ := two.Store.Get(ctx, "k"); found {
		t.Error("workspace stores are not isolated")
	}

	// reopening shares the cached store
	again, err := m.Open(ctx, "one")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if v, found, _ := again.Store.Get(ctx, "k"); !found || v.String() != "one" {
		t.Errorf("Get() = %v, %v", v, found)
	}

	if _, err := m.SetActive(ctx, "missing"); !hosterr.IsKind(err, hosterr.KindNotFound) {
		t.Errorf("SetActive(missing) error = %v", err)
	}
	if m.Active().Name != "two" {
		t.Error("failed SetActive changed the active workspace")
	}
}

func TestActivateRecorded(t *testing.T) {
	home := t.TempDir()
	ctx := context.Background()

	m1, err := NewManager(Options{Home: home})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Create(ctx, Config{Name: "demo", Engine: "expr"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m1.SetActive(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	_ = m1.Close()

	m2, err := NewManager(Options{Home: home})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	wc, err := m2.Activate(ctx, "")
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if wc.Name != "demo" || wc.Config.Engine != "expr" {
		t.Errorf("Activate() = %+v", wc)
	}
}

func TestSurfaceConfig(t *testing.T) {
	m := setupManager(t)
	wc, err := m.Create(context.Background(), Config{
		Name: "surf", Engine: "js", BaseURL: "http://localhost:1", Env: map[string]string{"A": "1"}, Policy: "policies",
	})
	if err != nil {
		t.Fatal(err)
	}
	wc.Packages = packages.Unavailable{}

	sc := wc.SurfaceConfig(zerolog.Nop())
	if sc.Store != wc.Store || sc.FSRoot != wc.Dir || sc.Process.Dir != wc.Dir {
		t.Errorf("SurfaceConfig() = %+v", sc)
	}
	if sc.HTTP.BaseURL != "http://localhost:1" || sc.Process.Env["A"] != "1" {
		t.Errorf("SurfaceConfig() http/process = %+v %+v", sc.HTTP, sc.Process)
	}
	if sc.Packages.Name() != "none" {
		t.Errorf("Packages = %s", sc.Packages.Name())
	}
	if got := wc.PolicyPaths(); len(got) != 1 || got[0] != filepath.Join(wc.Dir, "policies") {
		t.Errorf("PolicyPaths() = %v", got)
	}
}

func TestWatchReloadsActiveConfig(t *testing.T) {
	old := ReloadDelay
	ReloadDelay = 20 * time.Millisecond
	defer func() { ReloadDelay = old }()

	var reloaded atomic.Pointer[Context]
	done := make(chan struct{}, 1)
	m, err := NewManager(Options{
		Home: t.TempDir(),
		OnReload: func(c *Context) {
			reloaded.Store(c)
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := m.Create(ctx, Config{Name: "live", Engine: "js"}); err != nil {
		t.Fatal(err)
	}
	before, err := m.SetActive(ctx, "live")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := m.loader.Save(m.Dir("live"), &Config{Name: "live", Engine: "lua"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	after := m.Active()
	if after.Config.Engine != "lua" {
		t.Errorf("active engine = %q, want lua", after.Config.Engine)
	}
	if after.Store != before.Store {
		t.Error("reload replaced the store")
	}
	if reloaded.Load() != after {
		t.Error("OnReload got a different context")
	}
	if before.Config.Engine != "js" {
		t.Error("previous context was mutated")
	}
}
