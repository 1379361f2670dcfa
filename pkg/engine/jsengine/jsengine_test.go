package jsengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// mapStore is an in-memory stand-in for the SQLite store.
type mapStore struct {
	data map[string]value.Value
}

func (m *mapStore) Get(_ context.Context, key string) (value.Value, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, v value.Value) error {
	m.data[key] = v
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}

func (m *mapStore) Clear(context.Context) error {
	m.data = map[string]value.Value{}
	return nil
}

func (m *mapStore) Keys(context.Context) ([]string, error) {
	keys := []string{}
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mapStore) Values(context.Context) ([]value.Value, error) {
	return nil, nil
}

func setupSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(engine.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Bind("store", capability.NewStore(&mapStore{data: map[string]value.Value{}})); err != nil {
		t.Fatalf("Bind(store) error = %v", err)
	}
	return s
}

func slowObject(delay time.Duration) *capability.Object {
	echo := func(ctx context.Context, args capability.Args) (value.Value, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return value.Null(), ctx.Err()
		}
		if args.At(0).Equal(value.String("fail")) {
			return value.Null(), hosterr.NewNetworkError("connection refused", nil)
		}
		return args.At(0), nil
	}
	return &capability.Object{Name: "slow", Methods: []capability.Method{
		{Name: "echo", Fn: echo},
		{Name: "echoAsync", Async: true, Fn: echo},
	}}
}

func TestExecute_StoreScenario(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	got, err := s.Execute(ctx, `store.set("a", 1); store.get("a")`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.Int(1)) {
		t.Errorf("result = %s, want 1", got)
	}

	got, err = s.Execute(ctx, `store.clear(); store.keys()`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.Array()) {
		t.Errorf("keys after clear = %s, want []", got)
	}
}

func TestExecute_ValueShapes(t *testing.T) {
	s := setupSession(t)

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"null", `null`, `null`},
		{"undefined", `undefined`, `null`},
		{"bool", `true`, `true`},
		{"float", `1.5`, `1.5`},
		{"string", `"hi"`, `"hi"`},
		{"array", `[1, "two", [3]]`, `[1,"two",[3]]`},
		{"object order", `({z: 1, a: {b: null}})`, `{"z":1,"a":{"b":null}}`},
		{"round trip", `store.set("o", {y: [1, 2], x: "s"}); store.get("o")`, `{"y":[1,2],"x":"s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Execute(context.Background(), tt.source)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExecute_Unrepresentable(t *testing.T) {
	s := setupSession(t)

	tests := []string{
		`(function() {})`,
		`store.set("f", function() {})`,
		`store.set("n", NaN)`,
		`Symbol("x")`,
	}
	for _, src := range tests {
		_, err := s.Execute(context.Background(), src)
		if !hosterr.IsKind(err, hosterr.KindSerialization) {
			t.Errorf("%s: expected serialization error, got %v", src, err)
		}
	}
}

func TestExecute_ScriptErrors(t *testing.T) {
	s := setupSession(t)

	_, err := s.Execute(context.Background(), "var x = ;")
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("syntax error kind = %v", err)
	}

	_, err = s.Execute(context.Background(), "\nnotDefined + 1")
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("reference error kind = %v", err)
	}
	he := hosterr.Root(err)
	if !strings.Contains(he.Message, "notDefined") {
		t.Errorf("message = %q", he.Message)
	}
	if !strings.HasPrefix(he.Location, "script.js:2:") {
		t.Errorf("location = %q, want line 2", he.Location)
	}
}

func TestExecute_HostErrorPropagates(t *testing.T) {
	s := setupSession(t)

	_, err := s.Execute(context.Background(), `store.get(42)`)
	if hosterr.KindOf(err) != hosterr.KindEngine {
		t.Errorf("outer kind = %s, want engine", hosterr.KindOf(err))
	}
	if !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
		t.Errorf("host error lost: %v", err)
	}

	// caught host errors are ordinary JS errors
	got, err := s.Execute(context.Background(), `
		var msg;
		try { store.get(42) } catch (e) { msg = "caught" }
		msg`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.String("caught")) {
		t.Errorf("result = %s", got)
	}
}

func TestExecute_AsyncPromise(t *testing.T) {
	s := setupSession(t)
	if err := s.Bind("slow", slowObject(10*time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Execute(context.Background(), `
		(async function() {
			const a = await slow.echoAsync("a");
			const b = await slow.echoAsync("b");
			return a + b + slow.echo("c");
		})()`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.String("abc")) {
		t.Errorf("result = %s, want abc", got)
	}

	got, err = s.Execute(context.Background(), `
		var seen = [];
		slow.echoAsync("x").then(function(v) { seen.push(v); store.set("seen", seen) });
		"sync"`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.String("sync")) {
		t.Errorf("result = %s", got)
	}
	stored, _ := s.Execute(context.Background(), `store.get("seen")`)
	if !stored.Equal(value.Strings([]string{"x"})) {
		t.Errorf("then callback did not run before Execute returned, seen = %s", stored)
	}
}

func TestExecute_AsyncRejection(t *testing.T) {
	s := setupSession(t)
	if err := s.Bind("slow", slowObject(time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	_, err := s.Execute(context.Background(), `slow.echoAsync("fail")`)
	if !hosterr.IsKind(err, hosterr.KindNetwork) {
		t.Errorf("expected network error from rejected promise, got %v", err)
	}

	got, err := s.Execute(context.Background(), `
		slow.echoAsync("fail").catch(function(e) { return "recovered" })`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.String("recovered")) {
		t.Errorf("result = %s", got)
	}
}

func TestExecute_Interrupt(t *testing.T) {
	s := setupSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, `for (;;) {}`)
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}

	// the runtime is usable again after an interrupt
	got, err := s.Execute(context.Background(), `1 + 1`)
	if err != nil || !got.Equal(value.Int(2)) {
		t.Errorf("after interrupt: %s, %v", got, err)
	}
}

func TestBind_Property(t *testing.T) {
	s := setupSession(t)
	calls := 0
	obj := &capability.Object{Name: "pkg", Properties: []capability.Property{{
		Name: "list",
		Get: func(context.Context) (value.Value, error) {
			calls++
			return value.Strings([]string{"jq"}), nil
		},
	}}}
	if err := s.Bind("pkg", obj); err != nil {
		t.Fatal(err)
	}

	got, err := s.Execute(context.Background(), `pkg.list.concat(pkg.list)`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.Strings([]string{"jq", "jq"})) {
		t.Errorf("result = %s", got)
	}
	if calls != 2 {
		t.Errorf("getter called %d times, want 2", calls)
	}
}
