package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/packages"
	"github.com/openfroyo/scripthost/pkg/stores"
	"github.com/openfroyo/scripthost/pkg/value"
)

func setupStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCall(t *testing.T, obj *Object, method string, args ...value.Value) value.Value {
	t.Helper()
	v, err := obj.Call(context.Background(), method, args...)
	if err != nil {
		t.Fatalf("%s.%s() error = %v", obj.Name, method, err)
	}
	return v
}

func field(t *testing.T, v value.Value, key string) value.Value {
	t.Helper()
	obj, ok := v.AsObject()
	if !ok {
		t.Fatalf("expected object, got %s", value.Describe(v))
	}
	f, ok := obj.Get(key)
	if !ok {
		t.Fatalf("object has no field %q: %s", key, v)
	}
	return f
}

func TestStoreCapability(t *testing.T) {
	obj := NewStore(setupStore(t))

	mustCall(t, obj, "set", value.String("a"), value.Int(1))
	mustCall(t, obj, "set", value.String("b"), value.Array(value.String("x"), value.Bool(true)))
	mustCall(t, obj, "set", value.String("n"), value.Null())

	if got := mustCall(t, obj, "get", value.String("a")); !got.Equal(value.Int(1)) {
		t.Errorf("get(a) = %s, want 1", got)
	}
	if got := mustCall(t, obj, "get", value.String("missing")); !got.IsNull() {
		t.Errorf("get(missing) = %s, want null", got)
	}

	keys := mustCall(t, obj, "keys")
	if want := value.Strings([]string{"a", "b", "n"}); !keys.Equal(want) {
		t.Errorf("keys() = %s, want %s", keys, want)
	}

	values := mustCall(t, obj, "values")
	if items, _ := values.AsArray(); len(items) != 2 {
		t.Errorf("values() = %s, want 2 non-null entries", values)
	}

	if got := mustCall(t, obj, "delete", value.String("a")); !got.Equal(value.Bool(true)) {
		t.Errorf("delete(a) = %s, want true", got)
	}
	if got := mustCall(t, obj, "delete", value.String("a")); !got.Equal(value.Bool(false)) {
		t.Errorf("second delete(a) = %s, want false", got)
	}

	mustCall(t, obj, "clear")
	if got := mustCall(t, obj, "keys"); !got.Equal(value.Array()) {
		t.Errorf("keys() after clear = %s, want []", got)
	}
}

func TestStoreCapability_BadKey(t *testing.T) {
	obj := NewStore(setupStore(t))

	_, err := obj.Call(context.Background(), "get", value.Int(3))
	if !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if he := hosterr.Root(err); he == nil || he.Op != "store.get" {
		t.Errorf("error op = %v, want store.get", he)
	}
}

func TestHTTPCapability(t *testing.T) {
	var gotQuery, gotAuth, gotAgent, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)

		w.Header().Add("X-Test", "one")
		w.Header().Add("X-Test", "two")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "%s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	obj := NewHTTP(HTTPConfig{
		BaseURL:   srv.URL + "/api/",
		Headers:   map[string]string{"Authorization": "Bearer default"},
		UserAgent: "froyo-test",
	})

	t.Run("get with query and headers", func(t *testing.T) {
		resp := mustCall(t, obj, "get", value.String("/items"),
			value.Strings([]string{"b=2", "a=1 2"}),
			value.Strings([]string{"Authorization: Bearer override"}))

		if got := field(t, resp, "status"); !got.Equal(value.Int(200)) {
			t.Errorf("status = %s", got)
		}
		if got := field(t, resp, "ok"); !got.Equal(value.Bool(true)) {
			t.Errorf("ok = %s", got)
		}
		if got := field(t, resp, "body"); !got.Equal(value.String("GET /api/items")) {
			t.Errorf("body = %s", got)
		}
		if got := field(t, field(t, resp, "headers"), "X-Test"); !got.Equal(value.String("one, two")) {
			t.Errorf("X-Test header = %s", got)
		}
		if gotQuery != "b=2&a=1+2" {
			t.Errorf("query = %q, want order preserved", gotQuery)
		}
		if gotAuth != "Bearer override" {
			t.Errorf("Authorization = %q, want per-call header to win", gotAuth)
		}
		if gotAgent != "froyo-test" {
			t.Errorf("User-Agent = %q", gotAgent)
		}
	})

	t.Run("post json payload", func(t *testing.T) {
		payload := value.FromObject(value.NewObject().Set("name", value.String("x")).Set("n", value.Int(2)))
		resp := mustCall(t, obj, "post", value.String(srv.URL+"/raw"), payload)

		if got := field(t, resp, "body"); !got.Equal(value.String("POST /raw")) {
			t.Errorf("body = %s", got)
		}
		if gotBody != `{"name":"x","n":2}` {
			t.Errorf("request body = %q", gotBody)
		}
		if gotType != "application/json" {
			t.Errorf("Content-Type = %q", gotType)
		}
	})

	t.Run("put text payload", func(t *testing.T) {
		mustCall(t, obj, "put", value.String("doc"), value.String("hello"))
		if gotBody != "hello" || !strings.HasPrefix(gotType, "text/plain") {
			t.Errorf("body = %q, type = %q", gotBody, gotType)
		}
	})

	t.Run("non-2xx is a response", func(t *testing.T) {
		resp := mustCall(t, obj, "delete", value.String(srv.URL+"/missing"))
		if got := field(t, resp, "status"); !got.Equal(value.Int(404)) {
			t.Errorf("status = %s", got)
		}
		if got := field(t, resp, "ok"); !got.Equal(value.Bool(false)) {
			t.Errorf("ok = %s", got)
		}
	})

	t.Run("bad header", func(t *testing.T) {
		_, err := obj.Call(context.Background(), "get", value.String("x"), value.Null(), value.Strings([]string{"nocolon"}))
		if !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})
}

func TestHTTPCapability_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	obj := NewHTTP(HTTPConfig{})
	_, err := obj.Call(context.Background(), "get", value.String(url))
	if !hosterr.IsKind(err, hosterr.KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if errors.Unwrap(hosterr.Root(err)) == nil {
		t.Error("network error should capture its cause")
	}
}

func TestHTTPCapability_Cancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	obj := NewHTTP(HTTPConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := obj.Call(ctx, "get", value.String(srv.URL))
	if !hosterr.IsKind(err, hosterr.KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}

func TestHTTPCapability_AsyncVariants(t *testing.T) {
	obj := NewHTTP(HTTPConfig{})
	for _, verb := range []string{"get", "post", "put", "patch", "delete"} {
		m, ok := obj.Method(verb + "Async")
		if !ok || !m.Async {
			t.Errorf("missing async variant for %s", verb)
		}
	}
}

func TestFSCapability(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hi there"), 0o644); err != nil {
		t.Fatal(err)
	}
	obj := NewFS(dir)

	if got := mustCall(t, obj, "exists", value.String("note.txt")); !got.Equal(value.Bool(true)) {
		t.Errorf("exists(note.txt) = %s", got)
	}
	if got := mustCall(t, obj, "exists", value.String("nope.txt")); !got.Equal(value.Bool(false)) {
		t.Errorf("exists(nope.txt) = %s", got)
	}
	if got := mustCall(t, obj, "readText", value.String(filepath.Join(dir, "note.txt"))); !got.Equal(value.String("hi there")) {
		t.Errorf("readText = %s", got)
	}

	_, err := obj.Call(context.Background(), "readText", value.String("nope.txt"))
	if !hosterr.IsKind(err, hosterr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	_, err = obj.Call(context.Background(), "readText", value.String("."))
	if !hosterr.IsKind(err, hosterr.KindIO) {
		t.Errorf("reading a directory should be an IO error, got %v", err)
	}
}

func TestProcessCapability_RunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses echo and false binaries")
	}
	obj := NewProcess(ProcessConfig{})

	got := mustCall(t, obj, "runCommand", value.Bool(true), value.Null(), value.String("echo"), value.String("hello"))
	if !got.Equal(value.String("hello")) {
		t.Errorf("runCommand(echo hello) = %s, want \"hello\"", got)
	}

	got = mustCall(t, obj, "runCommand", value.Bool(false), value.Null(), value.String("echo"), value.String("hello"))
	if !got.Equal(value.String("")) {
		t.Errorf("runCommand without capture = %s, want \"\"", got)
	}

	_, err := obj.Call(context.Background(), "runCommand", value.Bool(true), value.Null(), value.String("false"), value.String("x"))
	if !hosterr.IsKind(err, hosterr.KindProcess) {
		t.Fatalf("expected process error, got %v", err)
	}
	if he := hosterr.Root(err); he.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", he.ExitCode)
	}
}

func TestProcessCapability_ShellMode(t *testing.T) {
	dir := t.TempDir()
	obj := NewProcess(ProcessConfig{Dir: dir, Env: map[string]string{"FROYO_GREETING": "hey"}})

	got := mustCall(t, obj, "runCommand", value.Bool(true), value.Null(), value.String("printf 'a\\r\\nb\\n\\n'"))
	if !got.Equal(value.String("a\nb")) {
		t.Errorf("normalized output = %q", got.String())
	}

	got = mustCall(t, obj, "runCommand", value.Bool(true), value.Null(), value.String("echo $FROYO_GREETING"))
	if !got.Equal(value.String("hey")) {
		t.Errorf("env output = %s", got)
	}

	res := mustCall(t, obj, "exec", value.String("echo out; echo err >&2; exit 3"))
	if got := field(t, res, "exitCode"); !got.Equal(value.Int(3)) {
		t.Errorf("exitCode = %s", got)
	}
	if got := field(t, res, "stdout"); !got.Equal(value.String("out")) {
		t.Errorf("stdout = %s", got)
	}
	if got := field(t, res, "stderr"); !got.Equal(value.String("err")) {
		t.Errorf("stderr = %s", got)
	}
}

func TestProcessCapability_Run(t *testing.T) {
	dir := t.TempDir()
	obj := NewProcess(ProcessConfig{Dir: dir})

	if got := mustCall(t, obj, "run", value.String("echo done > marker.txt")); !got.IsNull() {
		t.Errorf("run() = %s, want null", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
		if err == nil && strings.TrimSpace(string(data)) == "done" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background command did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessCapability_SpawnFailure(t *testing.T) {
	obj := NewProcess(ProcessConfig{})
	_, err := obj.Call(context.Background(), "exec", value.String("/definitely/not/here"), value.Null(), value.String("x"))
	if !hosterr.IsKind(err, hosterr.KindProcess) {
		t.Fatalf("expected process error, got %v", err)
	}
}

type fakeManager struct {
	installed []string
	failWith  error
}

func (f *fakeManager) Name() string { return "fake" }

func (f *fakeManager) Install(_ context.Context, name, version string) (*packages.Result, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.installed = append(f.installed, name)
	return &packages.Result{Success: true, Message: "installed " + name, PackageName: name, Version: version, Path: "/usr/bin/" + name}, nil
}

func (f *fakeManager) Uninstall(_ context.Context, name string) (*packages.Result, error) {
	return &packages.Result{Success: true, PackageName: name}, f.failWith
}

func (f *fakeManager) Update(_ context.Context, name string) (*packages.Result, error) {
	return &packages.Result{Success: true, PackageName: name}, f.failWith
}

func (f *fakeManager) Search(_ context.Context, q string) (*packages.Result, error) {
	return &packages.Result{Success: true, PackageName: q, List: []string{q, q + "-dev"}}, f.failWith
}

func (f *fakeManager) List(context.Context) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.installed, nil
}

func TestPackageCapability(t *testing.T) {
	mgr := &fakeManager{}
	obj := NewPackage(mgr)

	res := mustCall(t, obj, "install", value.String("jq"), value.String("1.7"))
	if got := field(t, res, "success"); !got.Equal(value.Bool(true)) {
		t.Errorf("success = %s", got)
	}
	if got := field(t, res, "version"); !got.Equal(value.String("1.7")) {
		t.Errorf("version = %s", got)
	}
	if got := field(t, res, "path"); !got.Equal(value.String("/usr/bin/jq")) {
		t.Errorf("path = %s", got)
	}

	res = mustCall(t, obj, "search", value.String("jq"))
	if got := field(t, res, "list"); !got.Equal(value.Strings([]string{"jq", "jq-dev"})) {
		t.Errorf("list = %s", got)
	}

	prop, ok := obj.Property("list")
	if !ok {
		t.Fatal("package has no list property")
	}
	list, err := prop.Get(context.Background())
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !list.Equal(value.Strings([]string{"jq"})) {
		t.Errorf("list = %s", list)
	}
}

func TestPackageCapability_FailureIsResult(t *testing.T) {
	obj := NewPackage(&fakeManager{failWith: errors.New("E: Unable to locate package nope")})

	for _, method := range []string{"install", "uninstall", "update", "search"} {
		res, err := obj.Call(context.Background(), method, value.String("nope"))
		if err != nil {
			t.Fatalf("%s should not raise, got %v", method, err)
		}
		if got := field(t, res, "success"); !got.Equal(value.Bool(false)) {
			t.Errorf("%s success = %s", method, got)
		}
		if got := field(t, res, "message"); !strings.Contains(got.String(), "Unable to locate") {
			t.Errorf("%s message = %s", method, got)
		}
	}

	prop, _ := obj.Property("list")
	list, err := prop.Get(context.Background())
	if err != nil || !list.Equal(value.Array()) {
		t.Errorf("list on failure = %s, %v; want [] and no error", list, err)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var trace []string
	mw := func(tag string) Middleware {
		return func(object, member string, next Func) Func {
			return func(ctx context.Context, args Args) (value.Value, error) {
				trace = append(trace, tag+":"+object+"."+member)
				return next(ctx, args)
			}
		}
	}

	obj := NewPackage(&fakeManager{}).With(mw("outer"), mw("inner"))
	mustCall(t, obj, "search", value.String("jq"))

	want := []string{"outer:package.search", "inner:package.search"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}

	trace = nil
	prop, _ := obj.Property("list")
	if _, err := prop.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(trace) != 2 || trace[0] != "outer:package.list" {
		t.Errorf("properties should pass through middleware, trace = %v", trace)
	}
}

func TestPanicBecomesEngineError(t *testing.T) {
	obj := &Object{Name: "boom", Methods: []Method{
		syncMethod("boom", "now", func(context.Context, Args) (value.Value, error) { panic("kaboom") }),
	}}

	_, err := obj.Call(context.Background(), "now")
	if !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error should carry panic value, got %q", err)
	}
}

func TestFuture(t *testing.T) {
	f := Start(context.Background(), func(context.Context, Args) (value.Value, error) {
		return value.String("done"), nil
	}, nil)

	got, err := f.Wait(context.Background())
	if err != nil || !got.Equal(value.String("done")) {
		t.Fatalf("Wait() = %s, %v", got, err)
	}
	if !f.Settled() {
		t.Error("future should be settled after Wait")
	}

	f = Start(context.Background(), func(context.Context, Args) (value.Value, error) { panic("nope") }, nil)
	<-f.Done()
	if _, err := f.Result(); !hosterr.IsKind(err, hosterr.KindEngine) {
		t.Errorf("panicking future should yield engine error, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	args := Args{value.String("a"), value.Null(), value.Array(value.String("x"), value.Int(2)), value.Bool(true)}

	if s, err := args.OptString(1, "def"); err != nil || s != "def" {
		t.Errorf("OptString(null) = %q, %v", s, err)
	}
	if _, err := args.StringList(2); !hosterr.IsKind(err, hosterr.KindInvalidArgument) {
		t.Errorf("StringList with a number should fail, got %v", err)
	}
	rest, err := args.Rest(1)
	if err != nil {
		t.Fatalf("Rest() error = %v", err)
	}
	if want := []string{"x", "2", "true"}; !reflect.DeepEqual(rest, want) {
		t.Errorf("Rest() = %v, want %v", rest, want)
	}
	if !args.At(10).IsNull() {
		t.Error("At out of range should be null")
	}
}

func TestBuildSurface(t *testing.T) {
	s, err := Build(SurfaceConfig{Store: setupStore(t), FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var names []string
	for _, obj := range s.Objects() {
		names = append(names, obj.Name)
	}
	if !reflect.DeepEqual(names, RequiredNames) {
		t.Errorf("surface = %v, want %v", names, RequiredNames)
	}

	if err := s.Register(NewFS("")); err == nil {
		t.Error("duplicate registration should fail")
	}

	if _, err := Build(SurfaceConfig{}); err == nil {
		t.Error("Build without a store should fail")
	}

	partial := NewSurface()
	_ = partial.Register(NewFS(""))
	if err := partial.Validate(); err == nil {
		t.Error("Validate should report missing capabilities")
	}
}
