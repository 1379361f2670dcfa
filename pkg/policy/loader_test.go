package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func setupLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

const tmpOnlyRego = `# Refuse writes outside tmp/.
# severity: critical
package froyo.test.tmp_only

import rego.v1

deny contains "writes are restricted to tmp/" if {
	input.object == "fs"
	input.member == "writeText"
	not startswith(input.args[0], "tmp/")
}
`

func TestLoadFromFile_Rego(t *testing.T) {
	loader := setupLoader(t)
	path := filepath.Join(t.TempDir(), "tmp-only.rego")
	writeFile(t, path, tmpOnlyRego)

	policy, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "tmp-only" {
		t.Errorf("Name = %q, want tmp-only", policy.Name)
	}
	if policy.Description != "Refuse writes outside tmp/." {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want critical", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != path {
		t.Errorf("source = %v", policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := setupLoader(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "named.json")
	writeFile(t, path, `{"description": "json policy", "severity": "warning", "rego": "package x\n\ndeny contains \"no\" if { false }\n"}`)
	policy, err := loader.loadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "named" || policy.Severity != SeverityWarning || !policy.Enabled {
		t.Errorf("policy = %+v", policy)
	}

	empty := filepath.Join(dir, "empty.json")
	writeFile(t, empty, `{"name": "empty"}`)
	if _, err := loader.loadFromFile(empty); err == nil {
		t.Error("expected error for policy without rego")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := setupLoader(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.rego"), tmpOnlyRego)
	writeFile(t, filepath.Join(dir, "nested", "a.rego"), tmpOnlyRego)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "bad.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2", len(policies))
	}
	if policies[0].Name != "b" || policies[1].Name != "a" {
		t.Errorf("order = %s, %s", policies[0].Name, policies[1].Name)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := setupEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tmp-only.rego"), tmpOnlyRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	decision, err := eng.Evaluate(context.Background(), &Input{
		Object: "fs", Member: "writeText", Op: "fs.writeText", Args: []interface{}{"etc/passwd", "x"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Allowed {
		t.Fatal("write outside tmp/ allowed")
	}
	if decision.Violations[0].Severity != SeverityCritical {
		t.Errorf("severity = %s", decision.Violations[0].Severity)
	}
}

func TestWatch_Reloads(t *testing.T) {
	loader := setupLoader(t)
	loader.ReloadDelay = 20 * time.Millisecond
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.rego"), tmpOnlyRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var loaded atomic.Int32
	reloaded := make(chan struct{}, 1)
	err := loader.Watch(ctx, []string{dir}, func(_ context.Context, policies []Policy) error {
		loaded.Store(int32(len(policies)))
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer loader.StopWatching()

	writeFile(t, filepath.Join(dir, "two.rego"), tmpOnlyRego)

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("policies were not reloaded")
	}
	if got := loaded.Load(); got != 2 {
		t.Errorf("reloaded %d policies, want 2", got)
	}
}
