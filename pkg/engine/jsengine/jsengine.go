// Package jsengine runs JavaScript on the goja runtime.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const scriptName = "script.js"

// Session is a goja runtime with capability objects bound as globals.
type Session struct {
	vm     *goja.Runtime
	logger zerolog.Logger

	// per-Execute state, only touched on the goroutine running Execute
	ctx     context.Context
	thrown  map[*goja.Object]error
	pending []*pendingCall
}

// pendingCall is an async capability call awaiting resolution of its
// Promise on the VM goroutine.
type pendingCall struct {
	future  *capability.Future
	resolve goja.Callable
	reject  goja.Callable
}

// New creates a session.
func New(opts engine.Options) (*Session, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	s := &Session{
		vm:     vm,
		logger: opts.Logger,
		ctx:    context.Background(),
		thrown: make(map[*goja.Object]error),
	}

	console := vm.NewObject()
	logFn := func(level zerolog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			s.logger.WithLevel(level).Str("engine", string(engine.KindJS)).Msg(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logFn(zerolog.InfoLevel))
	_ = console.Set("info", logFn(zerolog.InfoLevel))
	_ = console.Set("warn", logFn(zerolog.WarnLevel))
	_ = console.Set("error", logFn(zerolog.ErrorLevel))
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}
	return s, nil
}

// Registration registers the js kind with a factory.
func Registration(opts engine.Options) engine.Registration {
	return engine.Registration{
		Kind: engine.KindJS,
		New: func() (engine.Engine, error) {
			s, err := New(opts)
			if err != nil {
				return nil, err
			}
			return engine.NewGuarded(s), nil
		},
	}
}

// Kind returns engine.KindJS.
func (s *Session) Kind() engine.Kind { return engine.KindJS }

// Close is a no-op; the runtime is reclaimed by the garbage collector.
func (s *Session) Close() error { return nil }

// Bind exposes obj as a global object named name.
func (s *Session) Bind(name string, obj *capability.Object) error {
	jsObj := s.vm.NewObject()
	for _, m := range obj.Methods {
		if err := jsObj.Set(m.Name, s.method(m)); err != nil {
			return hosterr.NewEngineError("failed to bind "+name+"."+m.Name, err)
		}
	}
	for _, p := range obj.Properties {
		getter := s.vm.ToValue(s.property(p))
		if err := jsObj.DefineAccessorProperty(p.Name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return hosterr.NewEngineError("failed to bind "+name+"."+p.Name, err)
		}
	}
	if err := s.vm.Set(name, jsObj); err != nil {
		return hosterr.NewEngineError("failed to bind "+name, err)
	}
	return nil
}

func (s *Session) args(call goja.FunctionCall) capability.Args {
	args := make(capability.Args, len(call.Arguments))
	for i, a := range call.Arguments {
		v, err := fromJS(a)
		if err != nil {
			s.throw(err)
		}
		args[i] = v
	}
	return args
}

func (s *Session) method(m capability.Method) func(goja.FunctionCall) goja.Value {
	if m.Async {
		return func(call goja.FunctionCall) goja.Value {
			args := s.args(call)
			return s.promise(capability.Start(s.ctx, m.Fn, args))
		}
	}
	return func(call goja.FunctionCall) goja.Value {
		v, err := m.Fn(s.ctx, s.args(call))
		if err != nil {
			s.throw(err)
		}
		return toJS(s.vm, v)
	}
}

func (s *Session) property(p capability.Property) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		v, err := p.Get(s.ctx)
		if err != nil {
			s.throw(err)
		}
		return toJS(s.vm, v)
	}
}

// errorObject wraps err as a JS Error and remembers it so an uncaught
// throw can be traced back to the host error.
func (s *Session) errorObject(err error) *goja.Object {
	obj := s.vm.NewGoError(err)
	s.thrown[obj] = err
	return obj
}

// throw raises err as a JS exception. It does not return.
func (s *Session) throw(err error) {
	panic(s.errorObject(err))
}

// promise creates a pending Promise settled when f completes.
func (s *Session) promise(f *capability.Future) goja.Value {
	ctor, ok := goja.AssertConstructor(s.vm.Get("Promise"))
	if !ok {
		s.throw(hosterr.NewEngineError("Promise is not available", nil))
	}

	call := &pendingCall{future: f}
	executor := s.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		call.resolve, _ = goja.AssertFunction(fc.Argument(0))
		call.reject, _ = goja.AssertFunction(fc.Argument(1))
		return goja.Undefined()
	})
	p, err := ctor(nil, executor)
	if err != nil {
		s.throw(hosterr.NewEngineError("failed to create promise", err))
	}
	s.pending = append(s.pending, call)
	return p
}

// Execute runs source and returns its completion value. Pending async calls
// are drained before returning; a Promise result is unwrapped.
func (s *Session) Execute(ctx context.Context, source string) (result value.Value, err error) {
	s.ctx = ctx
	s.thrown = make(map[*goja.Object]error)
	s.pending = nil
	defer func() {
		s.ctx = context.Background()
		s.pending = nil
		s.vm.ClearInterrupt()
	}()

	stop := context.AfterFunc(ctx, func() { s.vm.Interrupt(ctx.Err()) })
	defer stop()

	out, err := s.vm.RunScript(scriptName, source)
	if err != nil {
		return value.Null(), s.scriptError(ctx, err)
	}

	if err := s.drain(ctx); err != nil {
		return value.Null(), err
	}

	if p, ok := out.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			out = p.Result()
		case goja.PromiseStateRejected:
			return value.Null(), s.rejection(p.Result())
		default:
			return value.Null(), engine.ScriptError(engine.KindJS, "promise never settled", "", nil)
		}
	}

	v, err := fromJS(out)
	if err != nil {
		return value.Null(), err
	}
	return v, nil
}

// drain waits for async calls and settles their promises on this goroutine.
// Settling runs promise jobs, which may start further calls.
func (s *Session) drain(ctx context.Context) error {
	for len(s.pending) > 0 {
		call := s.pending[0]
		select {
		case <-call.future.Done():
		case <-ctx.Done():
			return engine.Interrupted(engine.KindJS, ctx.Err())
		}
		s.pending = s.pending[1:]

		v, callErr := call.future.Result()
		var err error
		if callErr != nil {
			_, err = call.reject(goja.Undefined(), s.errorObject(callErr))
		} else {
			_, err = call.resolve(goja.Undefined(), toJS(s.vm, v))
		}
		if err != nil {
			return s.scriptError(ctx, err)
		}
	}
	return nil
}

var linePattern = regexp.MustCompile(`Line (\d+):(\d+)`)

func (s *Session) scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return engine.Interrupted(engine.KindJS, ctx.Err())
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		loc := ""
		if m := linePattern.FindStringSubmatch(syntaxErr.Error()); m != nil {
			loc = fmt.Sprintf("%s:%s:%s", scriptName, m[1], m[2])
		}
		return engine.ScriptError(engine.KindJS, syntaxErr.Error(), loc, nil)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		loc := ""
		for _, frame := range exc.Stack() {
			// native frames carry no position
			if pos := frame.Position(); pos.Line > 0 {
				loc = fmt.Sprintf("%s:%d:%d", scriptName, pos.Line, pos.Column)
				break
			}
		}
		if obj, ok := exc.Value().(*goja.Object); ok {
			if hostErr, ok := s.thrown[obj]; ok {
				return engine.ScriptError(engine.KindJS, "", loc, hostErr)
			}
		}
		return engine.ScriptError(engine.KindJS, exc.Value().String(), loc, nil)
	}

	return engine.ScriptError(engine.KindJS, err.Error(), "", nil)
}

func (s *Session) rejection(reason goja.Value) error {
	if obj, ok := reason.(*goja.Object); ok {
		if hostErr, ok := s.thrown[obj]; ok {
			return engine.ScriptError(engine.KindJS, "", "", hostErr)
		}
	}
	msg := "promise rejected"
	if reason != nil {
		msg = "promise rejected: " + reason.String()
	}
	return engine.ScriptError(engine.KindJS, msg, "", nil)
}
