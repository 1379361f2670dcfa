package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/scripthost/pkg/engine"
)

// froyo runs one CLI invocation against home and returns its stdout.
func froyo(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	a := &app{version: "test"}
	cmd := newRootCommand(a, "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--home", home, "--log-level", "disabled"}, args...))
	err := a.execute(context.Background(), cmd)
	return out.String(), err
}

func mustFroyo(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := froyo(t, home, args...)
	if err != nil {
		t.Fatalf("froyo %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("FROYO_HOME", "")
	mustFroyo(t, home, "init")
	return home
}

func TestInitAndEval(t *testing.T) {
	home := setupHome(t)

	out := mustFroyo(t, home, "eval", `store.set("a", 1); store.get("a")`)
	if out != "1\n" {
		t.Errorf("eval output = %q, want 1", out)
	}

	out = mustFroyo(t, home, "store", "keys")
	if out != "a\n" {
		t.Errorf("store keys = %q", out)
	}

	// init is idempotent
	out = mustFroyo(t, home, "init")
	if strings.Contains(out, "Created workspace") {
		t.Errorf("second init recreated the workspace: %q", out)
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	home := setupHome(t)

	mustFroyo(t, home, "workspace", "create", "ops", "--engine", "lua", "--timeout", "5s", "--use")
	out := mustFroyo(t, home, "eval", `return 2 + 3`)
	if out != "5\n" {
		t.Errorf("lua eval = %q, want 5", out)
	}

	out = mustFroyo(t, home, "--json", "workspace", "list")
	var entries []struct {
		Name   string `json:"name"`
		Engine string `json:"engine"`
		Active bool   `json:"active"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("workspace list output %q: %v", out, err)
	}
	if len(entries) != 2 || entries[0].Name != "default" || entries[1].Name != "ops" || !entries[1].Active {
		t.Errorf("workspace list = %+v", entries)
	}

	// --workspace overrides the active one without changing it
	out = mustFroyo(t, home, "-w", "default", "eval", `40 + 2`)
	if out != "42\n" {
		t.Errorf("js eval = %q, want 42", out)
	}

	if _, err := froyo(t, home, "workspace", "create", "ops"); err == nil {
		t.Error("duplicate create succeeded")
	}
	if _, err := froyo(t, home, "workspace", "create", "bad", "--engine", "cobol"); err == nil {
		t.Error("create with unknown engine succeeded")
	}
	if _, err := froyo(t, home, "workspace", "use", "missing"); err == nil {
		t.Error("use of a missing workspace succeeded")
	}
}

func TestStoreCommands(t *testing.T) {
	home := setupHome(t)

	mustFroyo(t, home, "store", "set", "n", "3")
	mustFroyo(t, home, "store", "set", "obj", `{"b": [1, 2], "a": "x"}`)
	mustFroyo(t, home, "store", "set", "s", "plain words")
	mustFroyo(t, home, "store", "set", "raw", "7", "--string")

	tests := []struct {
		key  string
		want string
	}{
		{"n", "3"},
		{"obj", `{"b":[1,2],"a":"x"}`},
		{"s", `"plain words"`},
		{"raw", `"7"`},
	}
	for _, tt := range tests {
		out := mustFroyo(t, home, "store", "get", tt.key)
		if strings.TrimSpace(out) != tt.want {
			t.Errorf("store get %s = %q, want %s", tt.key, out, tt.want)
		}
	}

	if _, err := froyo(t, home, "store", "get", "missing"); err == nil {
		t.Error("get of a missing key succeeded")
	}

	mustFroyo(t, home, "store", "delete", "raw")
	out := mustFroyo(t, home, "store", "keys")
	if out != "n\nobj\ns\n" {
		t.Errorf("keys after delete = %q", out)
	}

	mustFroyo(t, home, "store", "clear")
	out = mustFroyo(t, home, "store", "values")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("values after clear = %q", out)
	}
}

func TestBackupRestore(t *testing.T) {
	home := setupHome(t)
	file := filepath.Join(t.TempDir(), "store.json")

	mustFroyo(t, home, "store", "set", "a", "1")
	mustFroyo(t, home, "store", "set", "b", `["x"]`)
	mustFroyo(t, home, "backup", "--out", file)

	mustFroyo(t, home, "workspace", "create", "copy")
	mustFroyo(t, home, "-w", "copy", "store", "set", "keep", "true")
	mustFroyo(t, home, "-w", "copy", "restore", file, "--merge")

	out := mustFroyo(t, home, "-w", "copy", "store", "keys")
	if out != "a\nb\nkeep\n" {
		t.Errorf("keys after merge = %q", out)
	}

	mustFroyo(t, home, "-w", "copy", "restore", file)
	out = mustFroyo(t, home, "-w", "copy", "store", "keys")
	if out != "a\nb\n" {
		t.Errorf("keys after restore = %q", out)
	}
}

func TestRunHistory(t *testing.T) {
	home := setupHome(t)

	mustFroyo(t, home, "eval", `1`)
	if _, err := froyo(t, home, "eval", `throw new Error("boom")`); err == nil {
		t.Fatal("failing script succeeded")
	}

	out := mustFroyo(t, home, "--json", "history")
	var runs []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history output %q: %v", out, err)
	}
	if len(runs) != 2 {
		t.Fatalf("history has %d runs, want 2", len(runs))
	}
	statuses := map[string]bool{}
	for _, r := range runs {
		statuses[r.Status] = true
	}
	if !statuses["completed"] || !statuses["failed"] {
		t.Errorf("statuses = %v", statuses)
	}

	out = mustFroyo(t, home, "history", "show", runs[0].ID)
	if !strings.Contains(out, runs[0].ID) {
		t.Errorf("history show = %q", out)
	}
}

func TestPolicyAndValidate(t *testing.T) {
	home := setupHome(t)

	out := mustFroyo(t, home, "policy", "list")
	if !strings.Contains(out, "root-removal") {
		t.Errorf("policy list = %q", out)
	}

	if _, err := froyo(t, home, "policy", "check", "process", "runCommand", "true", "null", "rm -rf /"); err == nil {
		t.Error("policy check allowed root removal")
	}
	mustFroyo(t, home, "policy", "check", "fs", "exists", "notes.txt")

	if _, err := froyo(t, home, "eval", `process.runCommand(true, null, "rm -rf /")`); err == nil {
		t.Error("script root removal was not denied")
	}

	out = mustFroyo(t, home, "validate")
	if !strings.Contains(out, "ok    default") {
		t.Errorf("validate = %q", out)
	}
}

func TestEngines(t *testing.T) {
	home := setupHome(t)
	out := mustFroyo(t, home, "--json", "engines")
	var kinds []string
	if err := json.Unmarshal([]byte(out), &kinds); err != nil {
		t.Fatal(err)
	}
	if strings.Join(kinds, ",") != "expr,js,lua,starlark" {
		t.Errorf("engines = %v", kinds)
	}
}

func TestInvocationsShareEngineFactory(t *testing.T) {
	home := setupHome(t)

	var factories []*engine.Factory
	for i := 0; i < 2; i++ {
		a := &app{version: "test"}
		cmd := newRootCommand(a, "none", "today")
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--home", home, "--log-level", "disabled", "eval", "1 + 1"})
		if err := a.execute(context.Background(), cmd); err != nil {
			t.Fatalf("eval #%d: %v", i+1, err)
		}
		factories = append(factories, a.factory)
	}

	if factories[0] == nil || factories[0] != factories[1] {
		t.Fatalf("factories = %p, %p, want one shared instance", factories[0], factories[1])
	}
	if _, err := factories[1].Get(engine.KindJS); err != nil {
		t.Errorf("shared factory unusable after invocations closed: %v", err)
	}
}
