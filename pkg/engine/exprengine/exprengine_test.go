package exprengine

import (
	"context"
	"testing"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

func setupSession(t *testing.T) (*Session, *int) {
	t.Helper()
	s, err := New(engine.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	reads := 0
	fn := func(_ context.Context, args capability.Args) (value.Value, error) {
		if args.At(0).Equal(value.String("boom")) {
			return value.Null(), hosterr.NewStorageError("disk full", nil)
		}
		return args.At(0), nil
	}
	obj := &capability.Object{
		Name: "rec",
		Methods: []capability.Method{
			{Name: "echo", Fn: fn},
			{Name: "echoAsync", Async: true, Fn: fn},
		},
		Properties: []capability.Property{{
			Name: "list",
			Get: func(context.Context) (value.Value, error) {
				reads++
				return value.Strings([]string{"a", "b"}), nil
			},
		}},
	}
	if err := s.Bind("rec", obj); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return s, &reads
}

func TestExecute_Result(t *testing.T) {
	s, _ := setupSession(t)

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"arithmetic", `2 + 2`, `4`},
		{"float", `1 / 4`, `0.25`},
		{"string", `"a" + "b"`, `"ab"`},
		{"array", `[1, "x", nil]`, `[1,"x",null]`},
		{"map sorted", `{"z": 1, "a": true}`, `{"a":true,"z":1}`},
		{"let", `let x = 3; x * x`, `9`},
		{"echo object", `rec.echo({"n": 1}).n + 1`, `2`},
		{"property", `len(rec.list)`, `2`},
		{"async", `rec.echoAsync("later").wait()`, `"later"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Execute(context.Background(), tt.script)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExecute_PropertiesReadOnDemand(t *testing.T) {
	s, reads := setupSession(t)

	if _, err := s.Execute(context.Background(), `rec.echo(1)`); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if *reads != 0 {
		t.Errorf("property read %d times without being referenced", *reads)
	}
	if _, err := s.Execute(context.Background(), `rec.list[0]`); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if *reads != 1 {
		t.Errorf("property reads = %d, want 1", *reads)
	}
}

func TestExecute_Errors(t *testing.T) {
	s, _ := setupSession(t)

	_, err := s.Execute(context.Background(), `1 +`)
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("syntax error = %v", err)
	}
	if loc := hosterr.Root(err).Location; loc == "" {
		t.Error("syntax error has no location")
	}

	_, err = s.Execute(context.Background(), `missing + 1`)
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Errorf("unknown name error = %v", err)
	}

	_, err = s.Execute(context.Background(), `rec.echo("boom")`)
	if !hosterr.IsKind(err, hosterr.KindStorage) {
		t.Fatalf("host error lost: %v", err)
	}
	if hosterr.KindOf(err) != hosterr.KindEngine {
		t.Errorf("outer kind = %s", hosterr.KindOf(err))
	}

	_, err = s.Execute(context.Background(), `rec.echo`)
	if !hosterr.IsKind(err, hosterr.KindSerialization) {
		t.Errorf("expected serialization error for a function result, got %v", err)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	s, _ := setupSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, `rec.echo(1)`)
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestBind_Replaces(t *testing.T) {
	s, _ := setupSession(t)
	other := &capability.Object{Name: "rec", Methods: []capability.Method{{
		Name: "echo",
		Fn: func(context.Context, capability.Args) (value.Value, error) {
			return value.String("replaced"), nil
		},
	}}}
	if err := s.Bind("rec", other); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	got, err := s.Execute(context.Background(), `rec.echo(1)`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !got.Equal(value.String("replaced")) {
		t.Errorf("result = %s", got)
	}
}
